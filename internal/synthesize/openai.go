package synthesize

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snarg/dubsync/internal/audio"
)

// OpenAIOptions configures the OpenAI speech backend.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string // empty uses the OpenAI API
	Model       string
	Voice       string  // default when a request carries none
	CharsPerSec float64 // 0 disables speed hints
}

// OpenAISpeech calls an OpenAI-compatible /audio/speech endpoint.
type OpenAISpeech struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAI creates the OpenAI speech backend.
func NewOpenAI(opts OpenAIOptions) *OpenAISpeech {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAISpeech{client: openai.NewClientWithConfig(cfg), opts: opts}
}

// Name returns the provider name.
func (o *OpenAISpeech) Name() string { return "openai" }

// Synthesize requests a WAV rendering of req.Text.
func (o *OpenAISpeech) Synthesize(ctx context.Context, req Request) (audio.Waveform, error) {
	voice := req.Voice
	if voice == "" {
		voice = o.opts.Voice
	}

	speech := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.opts.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	}
	if speed := SpeedFor(req.Text, req.TargetDuration, o.opts.CharsPerSec); speed != 1 {
		speech.Speed = speed
	}

	resp, err := o.client.CreateSpeech(ctx, speech)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("read speech: %w", err)
	}
	w, err := audio.DecodeBytes(body)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode speech: %w", err)
	}
	return w, nil
}
