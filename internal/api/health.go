package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/dubsync/internal/jobs"
	"github.com/snarg/dubsync/internal/watcher"
)

// HealthChecker is a dependency that can be pinged; *database.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnChecker reports a live connection; *mqttclient.Client.
type ConnChecker interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Queue         *jobs.QueueStats  `json:"queue,omitempty"`
	Watcher       *watcher.Status   `json:"watcher,omitempty"`
}

type HealthHandler struct {
	db        HealthChecker
	mqtt      ConnChecker
	queue     func() jobs.QueueStats
	watcher   func() watcher.Status
	version   string
	startTime time.Time
}

// NewHealthHandler builds the health endpoint. Any dependency may be nil
// when it is not configured.
func NewHealthHandler(db HealthChecker, mqtt ConnChecker, queue func() jobs.QueueStats, watch func() watcher.Status, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		queue:     queue,
		watcher:   watch,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check; without one jobs live in memory
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.db.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "memory"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	if h.watcher != nil {
		ws := h.watcher()
		checks["file_watcher"] = ws.Status
		resp.Watcher = &ws
	} else {
		checks["file_watcher"] = "not_configured"
	}

	if h.queue != nil {
		qs := h.queue()
		resp.Queue = &qs
		if qs.Workers == 0 && status == "healthy" {
			status = "degraded"
			resp.Status = status
		}
	}

	WriteJSON(w, httpStatus, resp)
}
