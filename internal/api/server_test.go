package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/config"
	"github.com/snarg/dubsync/internal/events"
	"github.com/snarg/dubsync/internal/jobs"
	"github.com/snarg/dubsync/internal/storage"
	"github.com/snarg/dubsync/internal/timesync"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine, err := timesync.NewEngine(timesync.EngineOptions{Params: timesync.DefaultParams(), Log: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	cfg := &config.Config{
		HTTPAddr:    ":0",
		AuthToken:   "secret",
		CORSOrigins: "https://app.example.com",
		ArtifactDir: dir,
		MaxUploadMB: 10,
	}
	pool := jobs.NewWorkerPool(jobs.WorkerPoolOptions{Workers: 1, QueueSize: 4, Log: zerolog.Nop()})
	return NewServer(ServerOptions{
		Config:    cfg,
		Jobs:      pool,
		Artifacts: storage.NewLocalStore(dir),
		Engine:    engine,
		Bus:       events.NewBus(16),
		Version:   "test",
		StartTime: time.Now(),
		Log:       zerolog.Nop(),
	})
}

func TestServerRoutes(t *testing.T) {
	h := newTestServer(t).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health_without_auth", "GET", "/api/v1/health", "", http.StatusOK},
		{"metrics_without_auth", "GET", "/metrics", "", http.StatusOK},
		{"jobs_require_auth", "GET", "/api/v1/jobs", "", http.StatusUnauthorized},
		{"jobs_with_token", "GET", "/api/v1/jobs", "secret", http.StatusOK},
		{"unknown_job", "GET", "/api/v1/jobs/00000000-0000-0000-0000-000000000000", "secret", http.StatusNotFound},
		{"sync_requires_auth", "POST", "/api/v1/sync", "", http.StatusUnauthorized},
		{"unknown_route", "GET", "/api/v1/nope", "secret", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServerCORS(t *testing.T) {
	h := newTestServer(t).Handler()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestSplitOrigins(t *testing.T) {
	got := splitOrigins(" https://a.example, ,https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("splitOrigins = %q", got)
	}
	if splitOrigins("") != nil {
		t.Error("splitOrigins(\"\") should be nil")
	}
}
