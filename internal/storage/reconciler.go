package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// objectStore is the subset of S3Store the background services need.
type objectStore interface {
	saver
	Exists(ctx context.Context, key string) bool
}

// UploadReconciler scans local artifacts for files missing from S3 and
// re-uploads them. Handles dropped async uploads and crash recovery.
type UploadReconciler struct {
	dir      string
	s3       objectStore
	interval time.Duration
	delay    time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(dir string, s3 objectStore, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		dir:      dir,
		s3:       s3,
		interval: 5 * time.Minute,
		delay:    2 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { close(r.stop) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(r.delay):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

// reconcile uploads every artifact modified within the window that S3 lacks.
func (r *UploadReconciler) reconcile() (uploaded, failed int) {
	var checked int
	cutoff := time.Now().Add(-r.window)

	filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		checked++

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exists := r.s3.Exists(ctx, key)
		cancel()
		if exists {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.s3.Save(ctx, key, data, ContentType(key)); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("reconcile upload failed")
			failed++
		} else {
			uploaded++
		}
		return nil
	})

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
	return uploaded, failed
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}
