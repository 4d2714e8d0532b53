// Package hub tracks connected subscribers, relays each manager's events to
// the one subscriber that owns it, and periodically broadcasts the global
// connection count to everyone.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecast/relay/internal/event"
	"github.com/pulsecast/relay/internal/lifecycle"
	"github.com/pulsecast/relay/internal/metrics"
)

// Config holds broadcast settings.
type Config struct {
	StatInterval time.Duration // statistic broadcast period
	SendBuffer   int           // per-subscriber outbound buffer
}

// Recorder receives a copy of every relayed event, e.g. for archival.
type Recorder interface {
	Record(ev event.Event)
}

// Hub is the subscriber registry.
type Hub struct {
	cfg      Config
	gauge    *lifecycle.Gauge
	logger   *slog.Logger
	recorder Recorder

	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// New creates an empty hub. The gauge supplies the global connection count
// carried by statistic broadcasts.
func New(cfg Config, gauge *lifecycle.Gauge, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:         cfg,
		gauge:       gauge,
		logger:      logger,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// SetRecorder installs an event recorder. Must be called before any relay
// pump starts.
func (h *Hub) SetRecorder(r Recorder) {
	h.recorder = r
}

// Register adds a subscriber for the given identity and returns it.
func (h *Hub) Register(identity string) *Subscriber {
	s := &Subscriber{
		ID:       uuid.New().String(),
		Identity: identity,
		send:     make(chan event.Event, h.cfg.SendBuffer),
		logger:   h.logger.With("subscriber", identity),
	}

	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.SubscribersActive.Inc()
	h.logger.Info("subscriber registered",
		"id", s.ID,
		"identity", identity,
		"subscribers", count,
	)
	return s
}

// Unregister removes a subscriber and closes its outbound channel.
func (h *Hub) Unregister(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[s]
	if ok {
		delete(h.subscribers, s)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}

	s.close()
	metrics.SubscribersActive.Dec()
	h.logger.Info("subscriber unregistered",
		"id", s.ID,
		"identity", s.Identity,
		"subscribers", count,
	)
}

// CountsByIdentity snapshots the live subscriber connection counts grouped by
// identity. Computed by scanning the current set at call time, not cached.
func (h *Hub) CountsByIdentity() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(h.subscribers))
	for s := range h.subscribers {
		counts[s.Identity]++
	}
	return counts
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Run broadcasts the statistic event to all subscribers on every interval
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.StatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast(event.Statistic(h.gauge.Value()))
		}
	}
}

// Relay pumps one manager's events into its owning subscriber until the
// manager's channel closes. Runs on the caller's goroutine.
func (h *Hub) Relay(events <-chan event.Event, s *Subscriber) {
	for ev := range events {
		metrics.EventsRelayed.WithLabelValues(string(ev.Kind)).Inc()
		if h.recorder != nil {
			h.recorder.Record(ev)
		}
		if !s.trySend(ev) {
			h.logger.Warn("subscriber send buffer full, dropping event",
				"id", s.ID,
				"kind", ev.Kind,
			)
		}
	}
}

// broadcast fans an event out to every subscriber without blocking on slow
// consumers.
func (h *Hub) broadcast(ev event.Event) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		s.trySend(ev)
	}
}
