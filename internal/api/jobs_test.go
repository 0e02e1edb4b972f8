package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/dubsync/internal/jobs"
	"github.com/snarg/dubsync/internal/storage"
)

// fakeJobs records submissions into a MemoryStore without running them.
type fakeJobs struct {
	store     *jobs.MemoryStore
	submitErr error
	last      jobs.Request
	lastFrom  string
}

func newFakeJobs() *fakeJobs { return &fakeJobs{store: jobs.NewMemoryStore()} }

func (f *fakeJobs) Submit(ctx context.Context, req jobs.Request, origin string) (*jobs.Job, error) {
	f.last, f.lastFrom = req, origin
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	j := jobs.NewJob(req, origin)
	if err := f.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (f *fakeJobs) Store() jobs.Store { return f.store }

// addJob stores a job in the given state with artifacts on disk.
func (f *fakeJobs) addJob(t *testing.T, state jobs.State, artifacts storage.ArtifactStore, files map[string]string) *jobs.Job {
	t.Helper()
	j := jobs.NewJob(jobs.Request{VideoPath: "/in/a.mp4", TargetLang: "es"}, "api")
	j.State = state
	for name, data := range files {
		if err := artifacts.Save(context.Background(), storage.ArtifactKey(j.ID, name), []byte(data), storage.ContentType(name)); err != nil {
			t.Fatal(err)
		}
		j.Artifacts = append(j.Artifacts, name)
	}
	if err := f.store.CreateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

type jobsFixture struct {
	fake      *fakeJobs
	artifacts *storage.LocalStore
	uploadDir string
	router    chi.Router
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	fx := &jobsFixture{
		fake:      newFakeJobs(),
		artifacts: storage.NewLocalStore(t.TempDir()),
		uploadDir: filepath.Join(t.TempDir(), "uploads"),
		router:    chi.NewRouter(),
	}
	defaults := jobs.Request{SourceLang: "en", TargetLang: "es", Voice: "alloy"}
	NewJobsHandler(fx.fake, fx.artifacts, defaults, fx.uploadDir, 10).Routes(fx.router)
	return fx
}

func (fx *jobsFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if fileData != nil && fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestCreateJob(t *testing.T) {
	video := filepath.Join(t.TempDir(), "talk.mp4")
	os.WriteFile(video, []byte("fake"), 0o644)

	t.Run("applies_defaults", func(t *testing.T) {
		fx := newJobsFixture(t)
		body := strings.NewReader(`{"video_path":"` + video + `","target_lang":"de"}`)
		rec := fx.do(httptest.NewRequest("POST", "/jobs", body))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusAccepted, rec.Body.String())
		}
		var j jobs.Job
		if err := json.Unmarshal(rec.Body.Bytes(), &j); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if j.State != jobs.StateQueued || j.TargetLang != "de" || j.SourceLang != "en" || j.Voice != "alloy" {
			t.Errorf("job = %+v", j)
		}
		if fx.fake.lastFrom != "api" {
			t.Errorf("origin = %q, want api", fx.fake.lastFrom)
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{"malformed_json", `{bad`},
		{"missing_video_path", `{"target_lang":"de"}`},
		{"video_not_found", `{"video_path":"/nonexistent/x.mp4"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newJobsFixture(t)
			rec := fx.do(httptest.NewRequest("POST", "/jobs", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}

	t.Run("queue_full", func(t *testing.T) {
		fx := newJobsFixture(t)
		fx.fake.submitErr = jobs.ErrQueueFull
		body := strings.NewReader(`{"video_path":"` + video + `"}`)
		rec := fx.do(httptest.NewRequest("POST", "/jobs", body))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})
}

func TestUploadJob(t *testing.T) {
	t.Run("stores_video_and_submits", func(t *testing.T) {
		fx := newJobsFixture(t)
		body, ct := buildMultipartForm(t, map[string]string{"target_lang": "fr"}, "video", []byte("fake-video"), "Talk.MP4")
		req := httptest.NewRequest("POST", "/jobs/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := fx.do(req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusAccepted, rec.Body.String())
		}

		got := fx.fake.last
		if got.TargetLang != "fr" || got.SourceLang != "en" {
			t.Errorf("request = %+v", got)
		}
		if filepath.Dir(got.VideoPath) != fx.uploadDir || filepath.Ext(got.VideoPath) != ".mp4" {
			t.Errorf("VideoPath = %q, want a .mp4 under %q", got.VideoPath, fx.uploadDir)
		}
		data, err := os.ReadFile(got.VideoPath)
		if err != nil || string(data) != "fake-video" {
			t.Errorf("stored upload = %q, %v", data, err)
		}
	})

	t.Run("unsupported_type", func(t *testing.T) {
		fx := newJobsFixture(t)
		body, ct := buildMultipartForm(t, nil, "video", []byte("text"), "notes.txt")
		req := httptest.NewRequest("POST", "/jobs/upload", body)
		req.Header.Set("Content-Type", ct)
		if rec := fx.do(req); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("missing_file", func(t *testing.T) {
		fx := newJobsFixture(t)
		body, ct := buildMultipartForm(t, map[string]string{"target_lang": "fr"}, "", nil, "")
		req := httptest.NewRequest("POST", "/jobs/upload", body)
		req.Header.Set("Content-Type", ct)
		if rec := fx.do(req); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
		if _, err := os.Stat(fx.uploadDir); !os.IsNotExist(err) {
			t.Error("upload dir created for a rejected upload")
		}
	})
}

func TestListJobs(t *testing.T) {
	fx := newJobsFixture(t)
	fx.fake.addJob(t, jobs.StateSucceeded, fx.artifacts, nil)
	fx.fake.addJob(t, jobs.StateFailed, fx.artifacts, nil)

	t.Run("all", func(t *testing.T) {
		rec := fx.do(httptest.NewRequest("GET", "/jobs", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var body struct {
			Jobs  []jobs.Job `json:"jobs"`
			Total int        `json:"total"`
			Limit int        `json:"limit"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if body.Total != 2 || len(body.Jobs) != 2 || body.Limit != 50 {
			t.Errorf("total=%d jobs=%d limit=%d, want 2/2/50", body.Total, len(body.Jobs), body.Limit)
		}
	})

	t.Run("state_filter", func(t *testing.T) {
		rec := fx.do(httptest.NewRequest("GET", "/jobs?state=failed", nil))
		var body struct {
			Jobs  []jobs.Job `json:"jobs"`
			Total int        `json:"total"`
		}
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Total != 1 || len(body.Jobs) != 1 || body.Jobs[0].State != jobs.StateFailed {
			t.Errorf("body = %+v, want one failed job", body)
		}
	})

	t.Run("invalid_state", func(t *testing.T) {
		rec := fx.do(httptest.NewRequest("GET", "/jobs?state=bogus", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestGetJob(t *testing.T) {
	fx := newJobsFixture(t)
	j := fx.fake.addJob(t, jobs.StateQueued, fx.artifacts, nil)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"found", "/jobs/" + j.ID, http.StatusOK},
		{"unknown", "/jobs/00000000-0000-0000-0000-000000000000", http.StatusNotFound},
		{"malformed_id", "/jobs/not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fx.do(httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestJobArtifacts(t *testing.T) {
	fx := newJobsFixture(t)
	done := fx.fake.addJob(t, jobs.StateSucceeded, fx.artifacts, map[string]string{
		"manifest.json": `{"job_id":"x"}`,
		"track.wav":     "RIFF",
	})
	running := fx.fake.addJob(t, jobs.StateRunning, fx.artifacts, nil)

	t.Run("manifest", func(t *testing.T) {
		rec := fx.do(httptest.NewRequest("GET", "/jobs/"+done.ID+"/manifest", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if body, _ := io.ReadAll(rec.Body); string(body) != `{"job_id":"x"}` {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("manifest_not_ready", func(t *testing.T) {
		rec := fx.do(httptest.NewRequest("GET", "/jobs/"+running.ID+"/manifest", nil))
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
	})

	t.Run("track", func(t *testing.T) {
		rec := fx.do(httptest.NewRequest("GET", "/jobs/"+done.ID+"/artifacts/track.wav", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("Content-Type = %q, want audio/wav", ct)
		}
		if rec.Body.String() != "RIFF" {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("not_produced", func(t *testing.T) {
		rec := fx.do(httptest.NewRequest("GET", "/jobs/"+done.ID+"/artifacts/dubbed.mp4", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("invalid_name", func(t *testing.T) {
		rec := fx.do(httptest.NewRequest("GET", "/jobs/"+done.ID+"/artifacts/..", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}
