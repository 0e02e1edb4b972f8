package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/snarg/dubsync/internal/timesync"
)

type Config struct {
	// Empty DATABASE_URL keeps job records in memory.
	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBrokerURL    string `env:"MQTT_BROKER_URL"`
	MQTTClientID     string `env:"MQTT_CLIENT_ID" envDefault:"dubsync"`
	MQTTUsername     string `env:"MQTT_USERNAME"`
	MQTTPassword     string `env:"MQTT_PASSWORD"`
	MQTTRequestTopic string `env:"MQTT_REQUEST_TOPIC" envDefault:"dubsync/jobs/request"`
	MQTTStatusTopic  string `env:"MQTT_STATUS_TOPIC" envDefault:"dubsync/jobs/status"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  string        `env:"CORS_ORIGINS"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"2048"`

	// Per-client request rate; 0 disables limiting
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Transcription: whisper, deepinfra or elevenlabs
	STTProvider        string        `env:"STT_PROVIDER" envDefault:"whisper"`
	WhisperURL         string        `env:"WHISPER_URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	WhisperModel       string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperAPIKey      string        `env:"WHISPER_API_KEY"`
	WhisperTimeout     time.Duration `env:"WHISPER_TIMEOUT" envDefault:"10m"`
	WhisperTemperature float64       `env:"WHISPER_TEMPERATURE" envDefault:"0.0"`
	WhisperPrompt      string        `env:"WHISPER_PROMPT"`

	DeepInfraAPIKey string `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel  string `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`

	// OpenAI-compatible chat and speech
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	TranslateModel       string `env:"TRANSLATE_MODEL" envDefault:"gpt-4o-mini"`
	TranslateConcurrency int    `env:"TRANSLATE_CONCURRENCY" envDefault:"4"`

	TTSProvider    string  `env:"TTS_PROVIDER" envDefault:"openai"`
	TTSModel       string  `env:"TTS_MODEL" envDefault:"tts-1"`
	TTSVoice       string  `env:"TTS_VOICE" envDefault:"alloy"`
	TTSConcurrency int     `env:"TTS_CONCURRENCY" envDefault:"4"`
	TTSCharsPerSec float64 `env:"TTS_CHARS_PER_SEC" envDefault:"15"`

	ElevenLabsAPIKey  string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel   string        `env:"ELEVENLABS_MODEL" envDefault:"eleven_multilingual_v2"`
	ElevenLabsVoiceID string        `env:"ELEVENLABS_VOICE_ID"`
	ElevenLabsTimeout time.Duration `env:"ELEVENLABS_TIMEOUT" envDefault:"2m"`
	ElevenLabsSTT     string        `env:"ELEVENLABS_STT_MODEL" envDefault:"scribe_v1"`
	ElevenLabsTerms   string        `env:"ELEVENLABS_KEYTERMS"`

	// Media tooling
	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	VideoAdjust string `env:"VIDEO_ADJUST" envDefault:"pad"`

	// Artifact storage (local, optionally mirrored to S3)
	ArtifactDir string `env:"ARTIFACT_DIR" envDefault:"./artifacts"`
	S3          S3Config

	// Job service
	WatchDir       string `env:"WATCH_DIR"`
	JobWorkers     int    `env:"JOB_WORKERS" envDefault:"2"`
	JobQueueSize   int    `env:"JOB_QUEUE_SIZE" envDefault:"100"`
	JobSourceLang  string `env:"JOB_SOURCE_LANG" envDefault:"en"`
	JobTargetLang  string `env:"JOB_TARGET_LANG" envDefault:"es"`
	JobVoice       string `env:"JOB_VOICE"`
	JobTempDir     string `env:"JOB_TEMP_DIR"`
	SubtitlesInMux bool   `env:"JOB_EMBED_SUBTITLES" envDefault:"true"`

	Sync SyncConfig
}

// SyncConfig is the tuning of the synchronization engine.
type SyncConfig struct {
	LeadingTolerance time.Duration `env:"SYNC_LEADING_TOLERANCE" envDefault:"500ms"`
	HoldTime         time.Duration `env:"SYNC_HOLD_TIME" envDefault:"300ms"`
	MinSpeech        time.Duration `env:"SYNC_MIN_SPEECH" envDefault:"50ms"`
	MinRatio         float64       `env:"SYNC_MIN_RATIO" envDefault:"0.5"`
	MaxRatio         float64       `env:"SYNC_MAX_RATIO" envDefault:"2.0"`
	PassBand         float64       `env:"SYNC_PASS_BAND" envDefault:"0.05"`
	Frame            time.Duration `env:"SYNC_FRAME" envDefault:"25ms"`
	NoiseFrames      int           `env:"SYNC_NOISE_FRAMES" envDefault:"20"`
	ThresholdFactor  float64       `env:"SYNC_THRESHOLD_FACTOR" envDefault:"3.0"`
	MinThreshold     float64       `env:"SYNC_MIN_THRESHOLD" envDefault:"0.005"`
	MaxThreshold     float64       `env:"SYNC_MAX_THRESHOLD" envDefault:"0.05"`
	Workers          int           `env:"SYNC_WORKERS" envDefault:"0"`
	SampleRate       int           `env:"SYNC_SAMPLE_RATE" envDefault:"24000"`
	NoSpeechFallback bool          `env:"SYNC_NO_SPEECH_FALLBACK" envDefault:"false"`
}

// S3Config holds S3-compatible object storage settings. Bucket empty means
// artifacts stay on local disk only.
type S3Config struct {
	Bucket         string        `env:"S3_BUCKET"`
	Endpoint       string        `env:"S3_ENDPOINT"`
	Region         string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey      string        `env:"S3_ACCESS_KEY"`
	SecretKey      string        `env:"S3_SECRET_KEY"`
	Prefix         string        `env:"S3_PREFIX"`
	PresignExpiry  time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
	LocalCache     bool          `env:"S3_LOCAL_CACHE" envDefault:"true"`
	UploadWorkers  int           `env:"S3_UPLOAD_WORKERS" envDefault:"2"`
	UploadQueueLen int           `env:"S3_UPLOAD_QUEUE" envDefault:"500"`
	CacheRetention time.Duration `env:"S3_CACHE_RETENTION" envDefault:"0s"`
	CacheMaxGB     int           `env:"S3_CACHE_MAX_GB" envDefault:"0"`
}

// Enabled reports whether S3 storage is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Params converts the sync section into engine parameters.
func (s SyncConfig) Params() timesync.Params {
	p := timesync.DefaultParams()
	p.LeadingTolerance = s.LeadingTolerance.Seconds()
	p.HoldTime = s.HoldTime.Seconds()
	p.MinSpeech = s.MinSpeech.Seconds()
	p.MinRatio = s.MinRatio
	p.MaxRatio = s.MaxRatio
	p.PassBand = s.PassBand
	p.Frame = s.Frame
	p.NoiseFrames = s.NoiseFrames
	p.ThresholdFactor = s.ThresholdFactor
	p.MinThreshold = s.MinThreshold
	p.MaxThreshold = s.MaxThreshold
	return p
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	ArtifactDir string
	WatchDir    string
	TargetLang  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.ArtifactDir != "" {
		cfg.ArtifactDir = overrides.ArtifactDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}
	if overrides.TargetLang != "" {
		cfg.JobTargetLang = overrides.TargetLang
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Sync.Params().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if c.Sync.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_SAMPLE_RATE must be positive, got %d", c.Sync.SampleRate))
	}
	switch c.STTProvider {
	case "whisper", "deepinfra", "elevenlabs":
	default:
		errs = append(errs, fmt.Errorf("STT_PROVIDER must be whisper, deepinfra or elevenlabs, got %q", c.STTProvider))
	}
	switch c.TTSProvider {
	case "openai", "elevenlabs":
	default:
		errs = append(errs, fmt.Errorf("TTS_PROVIDER must be openai or elevenlabs, got %q", c.TTSProvider))
	}
	switch c.VideoAdjust {
	case "pad", "none":
	default:
		errs = append(errs, fmt.Errorf("VIDEO_ADJUST must be pad or none, got %q", c.VideoAdjust))
	}
	if c.JobWorkers < 0 || c.JobQueueSize < 1 {
		errs = append(errs, fmt.Errorf("JOB_WORKERS must be >= 0 and JOB_QUEUE_SIZE >= 1"))
	}
	return errors.Join(errs...)
}
