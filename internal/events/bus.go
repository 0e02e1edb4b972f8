// Package events distributes job lifecycle events to SSE clients and the
// MQTT status publisher.
package events

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one published job event as delivered to subscribers.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SubType   string          `json:"sub_type,omitempty"`
	Timestamp string          `json:"timestamp"`
	JobID     string          `json:"job_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Filter selects events for a subscriber. Empty fields match everything.
// Types accepts "type" or "type:subtype" entries.
type Filter struct {
	Types  []string
	JobIDs []string
}

// Bus provides pub-sub event distribution with a ring buffer for replay on
// reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates a bus that keeps the last ringSize events for replay.
func NewBus(ringSize int) *Bus {
	ringSize = max(1, ringSize)
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. Slow subscribers miss events rather than blocking publishers.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events published after lastEventID, oldest
// first. An empty or unknown ID (already overwritten by the ring) replays the
// whole buffer.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	ordered := make([]Event, 0, b.ringSize)
	from := 0
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		ordered = append(ordered, e)
		if lastEventID != "" && e.ID == lastEventID {
			from = len(ordered)
		}
	}

	var out []Event
	for _, e := range ordered[from:] {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// EventData holds the fields needed to publish an event.
type EventData struct {
	Type    string
	SubType string
	JobID   string
	Payload any
}

// Publish sends an event to all matching subscribers and records it in the
// ring buffer.
func (b *Bus) Publish(e EventData) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return
	}

	now := time.Now()
	seq := b.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
		Type:      e.Type,
		SubType:   e.SubType,
		Timestamp: now.UTC().Format(time.RFC3339),
		JobID:     e.JobID,
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.filter.matches(event) {
			select {
			case sub.ch <- event:
			default:
				// Drop if subscriber is slow
			}
		}
	}
	b.mu.RUnlock()
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			t = strings.TrimSpace(t)
			if base, sub, ok := strings.Cut(t, ":"); ok {
				match = base == e.Type && sub == e.SubType
			} else {
				match = t == e.Type
			}
			if match {
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.JobIDs) > 0 && !slices.Contains(f.JobIDs, e.JobID) {
		return false
	}
	return true
}
