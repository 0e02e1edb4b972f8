// Package watcher turns video files dropped into a directory into dub jobs.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/jobs"
)

// VideoExtensions are the file types picked up from the watch folder.
var VideoExtensions = []string{".mp4", ".mkv", ".mov", ".webm", ".avi"}

// IsVideo reports whether path has a watched video extension.
func IsVideo(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range VideoExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// SubmitFunc enqueues a job; *jobs.WorkerPool.Submit in production.
type SubmitFunc func(ctx context.Context, req jobs.Request, origin string) (*jobs.Job, error)

// Status is the watcher state reported by the health endpoint.
type Status struct {
	Status         string `json:"status"`
	WatchDir       string `json:"watch_dir"`
	FilesSubmitted int64  `json:"files_submitted"`
	FilesRejected  int64  `json:"files_rejected"`
}

// FileWatcher monitors a directory tree for new video files and submits a
// job for each once the file stops changing. Files present at startup are
// left alone.
type FileWatcher struct {
	watchDir string
	submit   SubmitFunc
	defaults jobs.Request
	debounce time.Duration
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	lastSize       map[string]int64
	submitted      map[string]bool

	filesSubmitted atomic.Int64
	filesRejected  atomic.Int64
	status         atomic.Value // string: "starting", "watching", "stopped"
}

// New creates a watcher. defaults supplies the languages and voice of every
// submitted job.
func New(watchDir string, submit SubmitFunc, defaults jobs.Request, log zerolog.Logger) *FileWatcher {
	fw := &FileWatcher{
		watchDir:       watchDir,
		submit:         submit,
		defaults:       defaults,
		debounce:       500 * time.Millisecond,
		log:            log.With().Str("component", "watcher").Logger(),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
		lastSize:       make(map[string]int64),
		submitted:      make(map[string]bool),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds every existing directory under the watch dir to fsnotify and
// begins watching.
func (fw *FileWatcher) Start() error {
	if err := os.MkdirAll(fw.watchDir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w

	dirCount := 0
	err = filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil // continue walking
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	fw.ctx, fw.cancel = context.WithCancel(context.Background())
	go fw.watchLoop()
	fw.status.Store("watching")

	fw.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", fw.watchDir).
		Msg("file watcher initialized")
	return nil
}

// Stop closes the fsnotify watcher and cancels pending submissions.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.cancel != nil {
		fw.cancel()
	}
	if fw.watcher != nil {
		fw.watcher.Close()
		<-fw.done
	}

	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.log.Info().
		Int64("files_submitted", fw.filesSubmitted.Load()).
		Int64("files_rejected", fw.filesRejected.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (fw *FileWatcher) Status() Status {
	s, _ := fw.status.Load().(string)
	return Status{
		Status:         s,
		WatchDir:       fw.watchDir,
		FilesSubmitted: fw.filesSubmitted.Load(),
		FilesRejected:  fw.filesRejected.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	defer close(fw.done)
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New subdirectory: watch it too
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
				continue
			}

			if !IsVideo(event.Name) || strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			fw.schedule(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// schedule debounces a file. The job is submitted once no event arrived for
// the debounce period and the size stayed the same across it.
func (fw *FileWatcher) schedule(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if fw.submitted[path] {
		return
	}
	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.debounce)
		return
	}
	fw.lastSize[path] = fileSize(path)
	fw.debounceTimers[path] = time.AfterFunc(fw.debounce, func() { fw.fire(path) })
}

func (fw *FileWatcher) fire(path string) {
	fw.debounceMu.Lock()
	size := fileSize(path)
	if size < 0 {
		// Removed or renamed away before it settled
		delete(fw.debounceTimers, path)
		delete(fw.lastSize, path)
		fw.debounceMu.Unlock()
		return
	}
	if size != fw.lastSize[path] {
		fw.lastSize[path] = size
		fw.debounceTimers[path].Reset(fw.debounce)
		fw.debounceMu.Unlock()
		return
	}
	delete(fw.debounceTimers, path)
	delete(fw.lastSize, path)
	fw.submitted[path] = true
	fw.debounceMu.Unlock()

	if fw.ctx.Err() != nil {
		return
	}
	req := fw.defaults
	req.VideoPath = path
	j, err := fw.submit(fw.ctx, req, "watch")
	if err != nil {
		fw.filesRejected.Add(1)
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to submit watched file")
		return
	}
	fw.filesSubmitted.Add(1)
	fw.log.Info().Str("job_id", j.ID).Str("path", path).Msg("watched file submitted")
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
