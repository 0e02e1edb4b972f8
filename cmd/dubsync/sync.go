package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/snarg/dubsync/internal/audio"
	"github.com/snarg/dubsync/internal/config"
	"github.com/snarg/dubsync/internal/metrics"
	"github.com/snarg/dubsync/internal/pipeline"
	"github.com/snarg/dubsync/internal/timesync"
)

type SyncCmd struct {
	Original string `required:"" help:"Original audio track (WAV)" type:"existingfile"`
	Segments string `required:"" help:"Segments JSON array" type:"existingfile"`
	Clips    string `required:"" help:"Directory of clips named <index>.wav or clip_<index>.wav" type:"existingdir"`
	Out      string `help:"Output track" default:"track.wav" type:"path"`
	Manifest string `help:"Write the manifest JSON here" type:"path"`
	SRT      string `name:"srt" help:"Write SRT subtitles here" type:"path"`
	VTT      string `name:"vtt" help:"Write WebVTT subtitles here" type:"path"`
	Fallback bool   `help:"Keep transcription timing when no speech is detected (overrides SYNC_NO_SPEECH_FALLBACK)"`
}

func (c *SyncCmd) Run(g *Globals) error {
	cfg, log, err := g.load(config.Overrides{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	original, err := audio.ReadFile(c.Original)
	if err != nil {
		return fmt.Errorf("original: %w", err)
	}
	raw, err := os.ReadFile(c.Segments)
	if err != nil {
		return err
	}
	var segments []timesync.Segment
	if err := json.Unmarshal(raw, &segments); err != nil {
		return fmt.Errorf("segments: %w", err)
	}
	clips, err := loadClips(c.Clips)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}
	fallback := c.Fallback || cfg.Sync.NoSpeechFallback
	res, usedFallback, err := pipeline.Synchronize(ctx, engine, timesync.Input{
		Original: original,
		Segments: segments,
		Clips:    clips,
	}, fallback, log)
	if err != nil {
		return err
	}
	outcome := "ok"
	if usedFallback {
		outcome = "fallback"
	}
	metrics.ObserveSync(res, outcome)

	files, err := pipeline.Render(pipeline.Job{ID: "local"}, &pipeline.Outcome{
		Result:   res,
		Segments: segments,
		Fallback: usedFallback,
	})
	if err != nil {
		return err
	}
	outputs := map[string]string{
		pipeline.TrackName:    c.Out,
		pipeline.ManifestName: c.Manifest,
		pipeline.SRTName:      c.SRT,
		pipeline.VTTName:      c.VTT,
	}
	for name, path := range outputs {
		if path == "" {
			continue
		}
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return err
		}
		log.Debug().Str("file", path).Msg("wrote output")
	}

	for _, a := range res.Annotations {
		log.Info().Str("kind", string(a.Kind)).Int("segment", a.SegmentIndex).Msg(a.Detail)
	}
	log.Info().
		Float64("speech_start", res.Detection.SpeechStart).
		Bool("fallback", usedFallback).
		Int("segments", len(res.Corrected)).
		Int("annotations", len(res.Annotations)).
		Float64("duration", res.Track.Manifest.TotalDuration()).
		Str("out", c.Out).
		Msg("sync complete")
	return nil
}

// loadClips reads every <index>.wav or clip_<index>.wav in dir. Other files
// are ignored.
func loadClips(dir string) ([]timesync.SynthesizedClip, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var clips []timesync.SynthesizedClip
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		stem = strings.TrimPrefix(stem, "clip_")
		idx, err := strconv.Atoi(stem)
		if err != nil {
			continue
		}
		w, err := audio.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("clip %s: %w", e.Name(), err)
		}
		clips = append(clips, timesync.SynthesizedClip{SegmentIndex: idx, Waveform: w})
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].SegmentIndex < clips[j].SegmentIndex })
	return clips, nil
}
