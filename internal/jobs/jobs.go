// Package jobs tracks dub jobs and runs them on a bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a job's lifecycle position: queued → running → succeeded|failed.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Valid reports whether s names a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateSucceeded, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

// Request is what a caller submits: the API, the MQTT subscriber, the watch
// folder or the CLI.
type Request struct {
	VideoPath  string `json:"video_path"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
	Voice      string `json:"voice,omitempty"`
}

// WithDefaults fills empty language and voice fields from d.
func (r Request) WithDefaults(d Request) Request {
	if r.SourceLang == "" {
		r.SourceLang = d.SourceLang
	}
	if r.TargetLang == "" {
		r.TargetLang = d.TargetLang
	}
	if r.Voice == "" {
		r.Voice = d.Voice
	}
	return r
}

// Validate checks the request after defaults were applied.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.VideoPath) == "" {
		errs = append(errs, errors.New("video_path is required"))
	}
	if r.TargetLang == "" {
		errs = append(errs, errors.New("target_lang is required"))
	}
	return errors.Join(errs...)
}

// Job is the persisted record of one dub run.
type Job struct {
	ID         string `json:"id"`
	State      State  `json:"state"`
	Origin     string `json:"origin"`
	VideoPath  string `json:"video_path"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Voice      string `json:"voice,omitempty"`

	Error       string   `json:"error,omitempty"`
	Segments    int      `json:"segments"`
	Annotations int      `json:"annotations"`
	Fallback    bool     `json:"no_speech_fallback"`
	Artifacts   []string `json:"artifacts,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewJob creates a queued job with a fresh ID.
func NewJob(req Request, origin string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		State:      StateQueued,
		Origin:     origin,
		VideoPath:  req.VideoPath,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Voice:      req.Voice,
		CreatedAt:  time.Now().UTC(),
	}
}

// HasArtifact reports whether name was stored for the job.
func (j *Job) HasArtifact(name string) bool { return slices.Contains(j.Artifacts, name) }

// Outcome is what a Processor reports for a successful job.
type Outcome struct {
	Segments    int
	Annotations int
	Fallback    bool
	Artifacts   []string
}

// Processor runs one job to completion.
type Processor interface {
	Process(ctx context.Context, j *Job) (*Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, j *Job) (*Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, j *Job) (*Outcome, error) { return f(ctx, j) }

// ErrNotFound is returned by stores for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// ListFilter narrows and pages a job listing.
type ListFilter struct {
	State  State
	Limit  int
	Offset int
}

// Store persists job records.
type Store interface {
	CreateJob(ctx context.Context, j *Job) error
	UpdateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	// ListJobs returns jobs newest first plus the total matching count.
	ListJobs(ctx context.Context, f ListFilter) ([]Job, int, error)
}

// MemoryStore is a process-local Store used when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (m *MemoryStore) CreateJob(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return errors.New("job " + j.ID + " already exists")
	}
	m.jobs[j.ID] = clone(*j)
	return nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[j.ID] = clone(*j)
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(j)
	return &out, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, f ListFilter) ([]Job, int, error) {
	m.mu.RLock()
	all := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.State == "" || j.State == f.State {
			all = append(all, clone(j))
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, k int) bool {
		if all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return all[i].ID > all[k].ID
		}
		return all[i].CreatedAt.After(all[k].CreatedAt)
	})

	total := len(all)
	start := min(max(0, f.Offset), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return all[start:end], total, nil
}

func clone(j Job) Job {
	j.Artifacts = slices.Clone(j.Artifacts)
	return j
}
