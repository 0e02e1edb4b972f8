package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/snarg/dubsync/internal/config"
	"github.com/snarg/dubsync/internal/pipeline"
	"github.com/snarg/dubsync/internal/storage"
)

type DubCmd struct {
	Video      string `arg:"" help:"Video file to dub" type:"existingfile"`
	SourceLang string `help:"Source language (overrides JOB_SOURCE_LANG; set JOB_SOURCE_LANG empty to detect)"`
	TargetLang string `help:"Target language (overrides JOB_TARGET_LANG)"`
	Voice      string `help:"Synthesis voice (overrides the provider default)"`
	Out        string `help:"Output directory" default:"./dubbed" type:"path"`
}

func (c *DubCmd) Run(g *Globals) error {
	cfg, log, err := g.load(config.Overrides{
		TargetLang:  c.TargetLang,
		ArtifactDir: c.Out,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := storage.NewLocalStore(c.Out)
	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}
	dubber, err := newDubber(cfg, engine, store, log)
	if err != nil {
		return err
	}

	job := pipeline.Job{
		ID:         uuid.NewString(),
		VideoPath:  c.Video,
		SourceLang: c.SourceLang,
		TargetLang: cfg.JobTargetLang,
		Voice:      c.Voice,
	}
	if job.SourceLang == "" {
		job.SourceLang = cfg.JobSourceLang
	}
	if job.Voice == "" {
		job.Voice = cfg.JobVoice
	}

	out, err := dubber.Process(ctx, job)
	if err != nil {
		return fmt.Errorf("dub %s: %w", c.Video, err)
	}
	for _, a := range out.Result.Annotations {
		log.Info().Str("kind", string(a.Kind)).Int("segment", a.SegmentIndex).Msg(a.Detail)
	}
	for _, name := range out.Artifacts {
		fmt.Println(store.LocalPath(storage.ArtifactKey(job.ID, name)))
	}
	return nil
}
