package synthesize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/snarg/dubsync/internal/audio"
)

const (
	elevenLabsTTSBase   = "https://api.elevenlabs.io/v1/text-to-speech/"
	elevenLabsPCMRate   = 24000
	elevenLabsPCMFormat = "pcm_24000"
)

// ElevenLabsOptions configures the ElevenLabs text-to-speech backend.
type ElevenLabsOptions struct {
	APIKey      string
	Model       string // e.g. "eleven_multilingual_v2"
	VoiceID     string // default when a request carries none
	CharsPerSec float64
	Timeout     time.Duration
}

// ElevenLabsTTS calls the ElevenLabs Text-to-Speech API and requests raw
// 16-bit PCM so no container parsing is needed.
type ElevenLabsTTS struct {
	base   string
	opts   ElevenLabsOptions
	client *http.Client
}

type elevenlabsTTSRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id,omitempty"`
	VoiceSettings *elevenlabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenlabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// NewElevenLabs creates a new ElevenLabs TTS client.
func NewElevenLabs(opts ElevenLabsOptions) *ElevenLabsTTS {
	return &ElevenLabsTTS{
		base:   elevenLabsTTSBase,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Name returns the provider name.
func (el *ElevenLabsTTS) Name() string { return "elevenlabs" }

// Synthesize renders req.Text with the request voice or the configured one.
func (el *ElevenLabsTTS) Synthesize(ctx context.Context, req Request) (audio.Waveform, error) {
	voice := req.Voice
	if voice == "" {
		voice = el.opts.VoiceID
	}
	if voice == "" {
		return audio.Waveform{}, fmt.Errorf("elevenlabs: no voice id configured")
	}

	body := elevenlabsTTSRequest{Text: req.Text, ModelID: el.opts.Model}
	if speed := SpeedFor(req.Text, req.TargetDuration, el.opts.CharsPerSec); speed != 1 {
		body.VoiceSettings = &elevenlabsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: speed}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := el.base + url.PathEscape(voice) + "?output_format=" + elevenLabsPCMFormat
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/pcm")
	httpReq.Header.Set("xi-api-key", el.opts.APIKey)

	resp, err := el.client.Do(httpReq)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return audio.Waveform{}, fmt.Errorf("elevenlabs API error (status %d): %s", resp.StatusCode, string(data))
	}

	return audio.FromPCM16(data, elevenLabsPCMRate), nil
}
