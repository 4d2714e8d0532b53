package hub

import (
	"log/slog"
	"sync"

	"github.com/pulsecast/relay/internal/event"
)

// Subscriber is one downstream client connected to the transport.
type Subscriber struct {
	ID       string // unique per connection
	Identity string // throttling identity (IP)

	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	send   chan event.Event
}

// Out returns the channel the transport's write pump drains. It is closed
// when the subscriber is unregistered.
func (s *Subscriber) Out() <-chan event.Event {
	return s.send
}

// trySend queues an event without blocking. Returns false when the subscriber
// is gone or its buffer is full.
func (s *Subscriber) trySend(ev event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
