package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/dubsync/internal/api"
	"github.com/snarg/dubsync/internal/config"
	"github.com/snarg/dubsync/internal/database"
	"github.com/snarg/dubsync/internal/events"
	"github.com/snarg/dubsync/internal/jobs"
	"github.com/snarg/dubsync/internal/metrics"
	"github.com/snarg/dubsync/internal/mqttclient"
	"github.com/snarg/dubsync/internal/storage"
	"github.com/snarg/dubsync/internal/watcher"
)

type ServeCmd struct {
	Listen      string `help:"HTTP listen address (overrides HTTP_ADDR)"`
	DatabaseURL string `help:"Postgres URL (overrides DATABASE_URL)"`
	ArtifactDir string `help:"Artifact directory (overrides ARTIFACT_DIR)" type:"path"`
	WatchDir    string `help:"Watch folder for new videos (overrides WATCH_DIR)" type:"path"`
}

// serviceStats feeds the scrape-time gauges.
type serviceStats struct {
	pool *jobs.WorkerPool
	bus  *events.Bus
}

func (s serviceStats) QueuePending() int       { return s.pool.QueuePending() }
func (s serviceStats) JobsRunning() int        { return s.pool.JobsRunning() }
func (s serviceStats) SSESubscriberCount() int { return s.bus.SubscriberCount() }

// jobFinished lets the artifact pruner evict only finished jobs. Jobs the
// store no longer knows count as finished.
func jobFinished(store jobs.Store) storage.JobFinished {
	return func(ctx context.Context, id string) bool {
		j, err := store.GetJob(ctx, id)
		if errors.Is(err, jobs.ErrNotFound) {
			return true
		}
		return err == nil && j.State.Terminal()
	}
}

func (c *ServeCmd) Run(g *Globals) error {
	startTime := time.Now()

	cfg, log, err := g.load(config.Overrides{
		HTTPAddr:    c.Listen,
		DatabaseURL: c.DatabaseURL,
		ArtifactDir: c.ArtifactDir,
		WatchDir:    c.WatchDir,
	})
	if err != nil {
		return err
	}
	log.Info().Str("version", version).Msg("dubsync starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := api.ServerOptions{
		Config:    cfg,
		Version:   version,
		StartTime: startTime,
		Log:       log,
	}

	// Job records: Postgres when configured, memory otherwise
	var store jobs.Store
	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			return err
		}
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		store = db
		opts.DB = db
	} else {
		log.Warn().Msg("DATABASE_URL not set, job records are kept in memory")
		store = jobs.NewMemoryStore()
	}

	// Artifact storage
	artifacts, services, err := storage.New(cfg.S3, cfg.ArtifactDir, jobFinished(store), log)
	if err != nil {
		return err
	}
	for _, svc := range services {
		svc.Start()
	}
	log.Info().Str("type", artifacts.Type()).Str("dir", cfg.ArtifactDir).Msg("artifact store ready")
	opts.Artifacts = artifacts

	// Sync engine and dub pipeline
	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}
	opts.Engine = engine
	dubber, err := newDubber(cfg, engine, artifacts, log)
	if err != nil {
		return err
	}

	// Job queue
	bus := events.NewBus(500)
	opts.Bus = bus
	pool := jobs.NewWorkerPool(jobs.WorkerPoolOptions{
		Store:        store,
		Processor:    jobs.ProcessorFunc(dubber.Handle),
		Workers:      cfg.JobWorkers,
		QueueSize:    cfg.JobQueueSize,
		PublishEvent: bus.Publish,
		Log:          log,
	})
	pool.Start()
	opts.Jobs = pool

	var pgxPool *pgxpool.Pool
	if db != nil {
		pgxPool = db.Pool
	}
	prometheus.MustRegister(metrics.NewCollector(pgxPool, serviceStats{pool: pool, bus: bus}))

	defaults := jobs.Request{
		SourceLang: cfg.JobSourceLang,
		TargetLang: cfg.JobTargetLang,
		Voice:      cfg.JobVoice,
	}

	// MQTT bridge
	var status *mqttclient.StatusPublisher
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTRequestTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Handler:   mqttclient.RequestHandler(pool.Submit, defaults, log),
			Log:       log,
		})
		if err != nil {
			return err
		}
		status = mqttclient.NewStatusPublisher(bus, mqtt, cfg.MQTTStatusTopic, log)
		status.Start()
		opts.MQTT = mqtt
	}

	// Watch folder
	var fw *watcher.FileWatcher
	if cfg.WatchDir != "" {
		fw = watcher.New(cfg.WatchDir, pool.Submit, defaults, log)
		if err := fw.Start(); err != nil {
			return err
		}
		opts.Watcher = fw
	}

	// HTTP server
	srv := api.NewServer(opts)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Stop intake first, then drain
	if fw != nil {
		fw.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	pool.Stop()
	if status != nil {
		status.Stop()
	}
	if mqtt != nil {
		mqtt.Close()
	}
	for _, svc := range services {
		svc.Stop()
	}

	log.Info().Msg("dubsync stopped")
	return nil
}
