package main

import (
	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/config"
	"github.com/snarg/dubsync/internal/media"
	"github.com/snarg/dubsync/internal/pipeline"
	"github.com/snarg/dubsync/internal/storage"
	"github.com/snarg/dubsync/internal/synthesize"
	"github.com/snarg/dubsync/internal/timesync"
	"github.com/snarg/dubsync/internal/transcribe"
	"github.com/snarg/dubsync/internal/translate"
)

func newEngine(cfg *config.Config, log zerolog.Logger) (*timesync.Engine, error) {
	return timesync.NewEngine(timesync.EngineOptions{
		Params:     cfg.Sync.Params(),
		Workers:    cfg.Sync.Workers,
		SampleRate: cfg.Sync.SampleRate,
		Log:        log,
	})
}

func transcribeOptions(cfg *config.Config) transcribe.Options {
	switch cfg.STTProvider {
	case "deepinfra":
		return transcribe.Options{
			Provider: "deepinfra",
			APIKey:   cfg.DeepInfraAPIKey,
			Model:    cfg.DeepInfraModel,
			Timeout:  cfg.WhisperTimeout,
		}
	case "elevenlabs":
		return transcribe.Options{
			Provider: "elevenlabs",
			APIKey:   cfg.ElevenLabsAPIKey,
			Model:    cfg.ElevenLabsSTT,
			Keyterms: cfg.ElevenLabsTerms,
			Timeout:  cfg.ElevenLabsTimeout,
		}
	default:
		return transcribe.Options{
			Provider: "whisper",
			URL:      cfg.WhisperURL,
			APIKey:   cfg.WhisperAPIKey,
			Model:    cfg.WhisperModel,
			Timeout:  cfg.WhisperTimeout,
		}
	}
}

// newDubber builds the full pipeline from config.
func newDubber(cfg *config.Config, engine *timesync.Engine, store storage.ArtifactStore, log zerolog.Logger) (*pipeline.Dubber, error) {
	stt, err := transcribe.New(transcribeOptions(cfg))
	if err != nil {
		return nil, err
	}

	tts, err := synthesize.New(cfg.TTSProvider,
		synthesize.OpenAIOptions{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.TTSModel,
			Voice:       cfg.TTSVoice,
			CharsPerSec: cfg.TTSCharsPerSec,
		},
		synthesize.ElevenLabsOptions{
			APIKey:      cfg.ElevenLabsAPIKey,
			Model:       cfg.ElevenLabsModel,
			VoiceID:     cfg.ElevenLabsVoiceID,
			CharsPerSec: cfg.TTSCharsPerSec,
			Timeout:     cfg.ElevenLabsTimeout,
		},
	)
	if err != nil {
		return nil, err
	}

	tools := &media.Tools{
		FFmpeg:      cfg.FFmpegPath,
		FFprobe:     cfg.FFprobePath,
		VideoAdjust: cfg.VideoAdjust,
		Log:         log.With().Str("component", "media").Logger(),
	}
	if err := tools.Check(); err != nil {
		log.Warn().Err(err).Msg("media tools unavailable, jobs will fail at extraction")
	}

	return pipeline.New(pipeline.Options{
		Transcriber: stt,
		Translator:  translate.NewChatTranslator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.TranslateModel),
		Synthesizer: tts,
		Media:       tools,
		Engine:      engine,
		Store:       store,
		TranscribeOpts: transcribe.TranscribeOpts{
			Temperature: cfg.WhisperTemperature,
			Prompt:      cfg.WhisperPrompt,
		},
		TranslateConcurrency: cfg.TranslateConcurrency,
		TTSConcurrency:       cfg.TTSConcurrency,
		SampleRate:           cfg.Sync.SampleRate,
		NoSpeechFallback:     cfg.Sync.NoSpeechFallback,
		EmbedSubtitles:       cfg.SubtitlesInMux,
		TempDir:              cfg.JobTempDir,
		Log:                  log,
	})
}
