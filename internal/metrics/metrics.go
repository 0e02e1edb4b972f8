package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/dubsync/internal/timesync"
)

const namespace = "dubsync"

// HTTP metrics (counter/histogram, incremented by middleware).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})

	HTTPResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes.",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B → 100MB
	}, []string{"method", "path_pattern"})
)

// Synchronization metrics (recorded per engine run).
var (
	SyncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Synchronization runs by outcome.",
	}, []string{"outcome"})

	SyncRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_run_duration_seconds",
		Help:      "Wall time of successful synchronization runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms → 20s
	})

	SyncAnnotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_annotations_total",
		Help:      "Per-segment annotations by kind.",
	}, []string{"kind"})

	StretchRatio = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_stretch_ratio",
		Help:      "Applied time-stretch ratio per fitted clip.",
		Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0, 1.05, 1.1, 1.25, 1.5, 1.75, 2.0},
	})

	PlacementDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_placement_drift_seconds",
		Help:      "Actual minus corrected start per placed segment.",
		Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// Job counters (incremented by the worker pool and pipeline).
var (
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Dub pipeline stage latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms → ~7min
	}, []string{"stage"})

	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Finished dub jobs by final state.",
	}, []string{"state"})

	JobsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_rejected_total",
		Help:      "Jobs rejected because the queue was full.",
	})

	MQTTMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_messages_total",
		Help:      "Total MQTT job requests received.",
	})

	SSEEventsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sse_events_published_total",
		Help:      "Total job events published.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPResponseSize,
		SyncRunsTotal,
		SyncRunDuration,
		SyncAnnotationsTotal,
		StretchRatio,
		PlacementDrift,
		StageDuration,
		JobsTotal,
		JobsRejectedTotal,
		MQTTMessagesTotal,
		SSEEventsPublishedTotal,
	)
}

// ObserveSync records a successful run's per-clip and per-segment figures.
func ObserveSync(res *timesync.Result, outcome string) {
	SyncRunsTotal.WithLabelValues(outcome).Inc()
	SyncRunDuration.Observe(res.Elapsed.Seconds())
	for _, a := range res.Annotations {
		SyncAnnotationsTotal.WithLabelValues(string(a.Kind)).Inc()
	}
	for _, f := range res.Fitted {
		StretchRatio.Observe(f.StretchRatio)
	}
	for _, e := range res.Track.Manifest.Entries {
		PlacementDrift.Observe(e.Drift)
	}
}

// SyncOutcome labels a run error for SyncRunsTotal.
func SyncOutcome(err error) string {
	var mse *timesync.MalformedSegmentError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, timesync.ErrNoSpeechDetected):
		return "no_speech"
	case errors.As(err, &mse):
		return "malformed_segment"
	default:
		return "error"
	}
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses chi's route pattern as the path label to avoid cardinality explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unknown"
		}
		method := r.Method
		status := strconv.Itoa(sw.status)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration)
		HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(sw.written))
	})
}

// statusWriter wraps http.ResponseWriter to capture status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Flush passes through so SSE streams work behind the instrumentation.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController and middleware that check for
// wrapped writers (e.g. http.Flusher for SSE streaming).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
