package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/config"
)

// ArtifactStore abstracts job artifact storage backends.
type ArtifactStore interface {
	// Save stores data. key format: jobs/{job_id}/{name}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL for the artifact.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the artifact.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an artifact exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates an ArtifactStore based on config. Returns the store and
// background services (uploader, reconciler, pruner) that the caller must
// Start/Stop. finished gates local eviction to jobs in a terminal state.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, dir string, finished JobFinished, log zerolog.Logger) (ArtifactStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary, S3 copy uploaded in the background
	local := NewLocalStore(dir)
	uploader := NewAsyncUploader(s3store, cfg.UploadQueueLen, cfg.UploadWorkers, log)
	tiered := NewTieredStore(s3store, local, uploader, log)

	services := []BackgroundService{uploader, NewUploadReconciler(dir, s3store, log)}
	if cfg.CacheRetention > 0 || cfg.CacheMaxGB > 0 {
		services = append(services, NewArtifactPruner(dir, cfg.CacheRetention, cfg.CacheMaxGB, s3store, finished, log))
	}
	return tiered, services, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// ArtifactKey returns the storage key of a job artifact.
func ArtifactKey(jobID, name string) string {
	return "jobs/" + jobID + "/" + name
}

// ValidName reports whether name is a plain artifact file name, safe to
// join into a key.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && path.Base(name) == name
}

// ContentType returns the MIME type for an artifact name.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".json":
		return "application/json"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
