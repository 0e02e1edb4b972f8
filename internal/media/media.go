// Package media wraps ffmpeg and ffprobe for audio extraction and muxing.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Duration tolerances when matching the dubbed track to the video.
const (
	padTolerance   = 0.1 // track longer than video by more than this extends the video
	shortTolerance = 0.5 // track shorter than video by more than this is logged
)

// Tools runs ffmpeg and ffprobe binaries.
type Tools struct {
	FFmpeg  string
	FFprobe string

	// VideoAdjust is "pad" to clone the last frame when the dubbed track
	// outlasts the video, or "none" to leave the video untouched.
	VideoAdjust string

	Log zerolog.Logger
}

// Check reports whether both binaries are on PATH.
func (t *Tools) Check() error {
	for _, bin := range []string{t.FFmpeg, t.FFprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return nil
}

// ExtractAudio writes the first audio stream of video as mono 16-bit WAV at
// rate Hz.
func (t *Tools) ExtractAudio(ctx context.Context, video, out string, rate int) error {
	return t.run(ctx, t.FFmpeg, ExtractAudioArgs(video, out, rate))
}

// ExtractAudioArgs builds the ffmpeg arguments for ExtractAudio.
func ExtractAudioArgs(video, out string, rate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", video,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(rate),
		"-ac", "1",
		"-y", out,
	}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the container duration of path in seconds.
func (t *Tools) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", filepath.Base(path), err, tail(stderr.String()))
	}
	return ParseProbeDuration(out)
}

// ParseProbeDuration extracts format.duration from ffprobe JSON output.
func ParseProbeDuration(out []byte) (float64, error) {
	var p probeOutput
	if err := json.Unmarshal(out, &p); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if p.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe output has no duration")
	}
	d, err := strconv.ParseFloat(p.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", p.Format.Duration, err)
	}
	return d, nil
}

// MuxOptions describes one output video.
type MuxOptions struct {
	Video     string
	Audio     string // dubbed track
	Subtitles string // optional .srt embedded as a soft track
	Output    string

	// MixOriginal keeps the original audio under the dub instead of
	// replacing it.
	MixOriginal bool

	AudioCodec   string // default aac
	AudioBitrate string // default 192k
}

// Mux combines the video with the dubbed track. The video is never cut:
// a longer track extends it by cloning the last frame, a shorter one is
// padded with silence.
func (t *Tools) Mux(ctx context.Context, opts MuxOptions) error {
	videoDur, err := t.Duration(ctx, opts.Video)
	if err != nil {
		return err
	}
	audioDur, err := t.Duration(ctx, opts.Audio)
	if err != nil {
		return err
	}

	if videoDur-audioDur > shortTolerance {
		t.Log.Warn().
			Float64("video", videoDur).
			Float64("audio", audioDur).
			Msg("dubbed track is shorter than the video, padding with silence")
	}

	args := MuxArgs(opts, videoDur, audioDur, t.VideoAdjust != "none")
	t.Log.Debug().Strs("args", args).Msg("muxing")
	return t.run(ctx, t.FFmpeg, args)
}

// MuxArgs builds the ffmpeg arguments for Mux given both durations.
func MuxArgs(opts MuxOptions, videoDur, audioDur float64, padVideo bool) []string {
	codec := opts.AudioCodec
	if codec == "" {
		codec = "aac"
	}
	bitrate := opts.AudioBitrate
	if bitrate == "" {
		bitrate = "192k"
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-i", opts.Video, "-i", opts.Audio}
	if opts.Subtitles != "" {
		args = append(args, "-i", opts.Subtitles)
	}

	var filters []string
	videoOut, audioOut := "0:v:0", "1:a:0"
	extend := padVideo && audioDur > videoDur+padTolerance

	if extend {
		filters = append(filters, fmt.Sprintf("[0:v]tpad=stop_mode=clone:stop_duration=%.3f[v]", audioDur-videoDur))
		videoOut = "[v]"
	}
	switch {
	case opts.MixOriginal:
		filters = append(filters, "[0:a][1:a]amix=inputs=2:duration=longest:dropout_transition=0[a]")
		audioOut = "[a]"
	case audioDur < videoDur:
		filters = append(filters, "[1:a]apad[a]")
		audioOut = "[a]"
	}
	if len(filters) > 0 {
		args = append(args, "-filter_complex", strings.Join(filters, ";"))
	}

	args = append(args, "-map", videoOut, "-map", audioOut)
	if opts.Subtitles != "" {
		args = append(args, "-map", "2:s:0", "-c:s", "mov_text")
	}
	if extend {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-crf", "20")
	} else {
		args = append(args, "-c:v", "copy")
	}
	args = append(args, "-c:a", codec, "-b:a", bitrate)
	if !opts.MixOriginal && audioDur < videoDur {
		// apad is endless; stop at the video's end
		args = append(args, "-shortest")
	}
	return append(args, "-y", opts.Output)
}

func (t *Tools) run(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, tail(stderr.String()))
	}
	return nil
}

// tail keeps the last lines of tool output for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}
