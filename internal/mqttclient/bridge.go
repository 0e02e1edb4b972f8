package mqttclient

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dubsync/internal/events"
	"github.com/snarg/dubsync/internal/jobs"
	"github.com/snarg/dubsync/internal/metrics"
)

// SubmitFunc enqueues a job; *jobs.WorkerPool.Submit in production.
type SubmitFunc func(ctx context.Context, req jobs.Request, origin string) (*jobs.Job, error)

// RequestHandler decodes job requests published as JSON (the same shape as
// POST /api/v1/jobs), fills unset languages and voice from defaults and
// submits them. Malformed or rejected requests are logged and dropped.
func RequestHandler(submit SubmitFunc, defaults jobs.Request, log zerolog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		metrics.MQTTMessagesTotal.Inc()

		var req jobs.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("invalid job request payload")
			return
		}
		req = req.WithDefaults(defaults)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		j, err := submit(ctx, req, "mqtt")
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Str("video_path", req.VideoPath).Msg("job request rejected")
			return
		}
		log.Info().Str("job_id", j.ID).Str("video_path", req.VideoPath).Msg("job request accepted")
	}
}

// Publisher is the outbound half of a Client.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// StatusPublisher forwards job events from the bus to
// <statusTopic>/<job_id>.
type StatusPublisher struct {
	bus   *events.Bus
	pub   Publisher
	topic string
	log   zerolog.Logger

	cancel func()
	done   chan struct{}
	once   sync.Once
}

func NewStatusPublisher(bus *events.Bus, pub Publisher, statusTopic string, log zerolog.Logger) *StatusPublisher {
	return &StatusPublisher{
		bus:   bus,
		pub:   pub,
		topic: strings.TrimSuffix(statusTopic, "/"),
		log:   log.With().Str("component", "mqtt-status").Logger(),
		done:  make(chan struct{}),
	}
}

// Start subscribes to job events and publishes them until Stop.
func (p *StatusPublisher) Start() {
	ch, cancel := p.bus.Subscribe(events.Filter{Types: []string{"job"}})
	p.cancel = cancel
	go func() {
		defer close(p.done)
		for e := range ch {
			if e.JobID == "" {
				continue
			}
			topic := p.topic + "/" + e.JobID
			if err := p.pub.Publish(topic, e.Data, true); err != nil {
				p.log.Warn().Err(err).Str("topic", topic).Msg("status publish failed")
			}
		}
	}()
}

// Stop unsubscribes and waits for in-flight publishes.
func (p *StatusPublisher) Stop() {
	p.once.Do(func() {
		if p.cancel == nil {
			close(p.done)
			return
		}
		p.cancel()
		<-p.done
	})
}
