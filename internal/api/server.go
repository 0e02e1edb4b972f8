package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/config"
	"github.com/snarg/dubsync/internal/events"
	"github.com/snarg/dubsync/internal/jobs"
	"github.com/snarg/dubsync/internal/metrics"
	"github.com/snarg/dubsync/internal/storage"
	"github.com/snarg/dubsync/internal/timesync"
	"github.com/snarg/dubsync/internal/watcher"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions wires the server's dependencies. DB, MQTT and Watcher may be
// nil when not configured.
type ServerOptions struct {
	Config    *config.Config
	Jobs      *jobs.WorkerPool
	Artifacts storage.ArtifactStore
	Engine    *timesync.Engine
	Bus       *events.Bus
	DB        HealthChecker
	MQTT      ConnChecker
	Watcher   *watcher.FileWatcher
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(splitOrigins(cfg.CORSOrigins)))

	var watchStatus func() watcher.Status
	if opts.Watcher != nil {
		watchStatus = opts.Watcher.Status
	}

	// Health and metrics: no auth
	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Jobs.Stats, watchStatus, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	defaults := jobs.Request{
		SourceLang: cfg.JobSourceLang,
		TargetLang: cfg.JobTargetLang,
		Voice:      cfg.JobVoice,
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(RateLimiter(cfg.RateLimitRPS, max(1, cfg.RateLimitBurst)))
		}
		r.Use(BearerAuth(cfg.AuthToken))
		NewJobsHandler(opts.Jobs, opts.Artifacts, defaults, filepath.Join(cfg.ArtifactDir, "uploads"), cfg.MaxUploadMB).Routes(r)
		NewSyncHandler(opts.Engine, cfg.Sync.NoSpeechFallback, cfg.MaxUploadMB).Routes(r)
		NewEventsHandler(opts.Bus).Routes(r)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log.With().Str("component", "http").Logger(),
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
