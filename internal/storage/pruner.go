package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobFinished reports whether a job has reached a terminal state.
type JobFinished func(ctx context.Context, jobID string) bool

// ArtifactPruner evicts the local copy of a job's artifacts once the job is
// finished and S3 holds every file. A job directory goes as a unit, oldest
// job first, when it is past retention or the cache is over its size budget.
type ArtifactPruner struct {
	dir       string
	retention time.Duration
	maxBytes  int64
	interval  time.Duration
	s3        objectStore
	finished  JobFinished
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewArtifactPruner creates a pruner over dir/jobs. A nil finished treats
// every job as finished.
func NewArtifactPruner(dir string, retention time.Duration, maxGB int, s3 objectStore, finished JobFinished, log zerolog.Logger) *ArtifactPruner {
	return &ArtifactPruner{
		dir:       dir,
		retention: retention,
		maxBytes:  int64(maxGB) << 30,
		interval:  time.Hour,
		s3:        s3,
		finished:  finished,
		log:       log.With().Str("component", "artifact-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *ArtifactPruner) Start() { go p.loop() }

func (p *ArtifactPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *ArtifactPruner) loop() {
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

// jobCache is the local footprint of one job directory.
type jobCache struct {
	id      string
	dir     string
	keys    []string
	size    int64
	newest  time.Time
	writing bool // holds an in-flight temp file
}

// scan returns cached jobs ordered by their newest artifact, oldest first.
func (p *ArtifactPruner) scan() ([]jobCache, int64) {
	root := filepath.Join(p.dir, "jobs")
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, 0
	}

	var cached []jobCache
	var total int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		jc := jobCache{id: e.Name(), dir: filepath.Join(root, e.Name())}
		files, err := os.ReadDir(jc.dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if isTempFile(f.Name()) {
				jc.writing = true
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			jc.keys = append(jc.keys, ArtifactKey(jc.id, f.Name()))
			jc.size += info.Size()
			if info.ModTime().After(jc.newest) {
				jc.newest = info.ModTime()
			}
		}
		total += jc.size
		cached = append(cached, jc)
	}

	sort.Slice(cached, func(i, j int) bool { return cached[i].newest.Before(cached[j].newest) })
	return cached, total
}

// prune evicts eligible jobs and returns how many were removed.
func (p *ArtifactPruner) prune() int {
	if p.retention == 0 && p.maxBytes == 0 {
		return 0
	}

	cutoff := time.Now().Add(-p.retention)
	cached, total := p.scan()
	var pruned, kept int
	var freed int64

	for _, jc := range cached {
		expired := p.retention > 0 && jc.newest.Before(cutoff)
		overBudget := p.maxBytes > 0 && total > p.maxBytes
		if !expired && !overBudget {
			continue
		}
		if reason := p.keepReason(jc); reason != "" {
			kept++
			p.log.Debug().Str("job_id", jc.id).Str("reason", reason).Msg("keeping job artifacts")
			continue
		}
		if err := os.RemoveAll(jc.dir); err != nil {
			p.log.Warn().Err(err).Str("job_id", jc.id).Msg("failed to remove job artifacts")
			continue
		}
		pruned++
		freed += jc.size
		total -= jc.size
	}

	if pruned > 0 || kept > 0 {
		p.log.Info().
			Int("jobs_pruned", pruned).
			Int("jobs_kept", kept).
			Str("freed", humanizeBytes(freed)).
			Str("remaining", humanizeBytes(total)).
			Msg("artifact prune complete")
	}
	return pruned
}

// keepReason returns why a job's artifacts must stay on disk, or "".
func (p *ArtifactPruner) keepReason(jc jobCache) string {
	if jc.writing {
		return "artifact write in progress"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if p.finished != nil && !p.finished(ctx, jc.id) {
		return "job not finished"
	}
	if p.s3 == nil {
		return ""
	}
	for _, key := range jc.keys {
		if !p.s3.Exists(ctx, key) {
			return "not in S3: " + filepath.Base(key)
		}
	}
	return ""
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
