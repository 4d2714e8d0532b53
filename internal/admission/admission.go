// Package admission gates the creation of new upstream sessions per client
// identity (IP), using connection-count and request-rate ceilings.
package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsecast/relay/internal/metrics"
)

// AdvisoryMessage is sent to a subscriber whose session request was denied,
// before the transport disconnects it.
const AdvisoryMessage = "Too many connections or requests from your address. " +
	"Close some sessions or wait a moment before trying again."

// ConnectionCounter supplies a live snapshot of subscriber connection counts
// grouped by identity. The snapshot includes the requesting subscriber's own
// transport connection.
type ConnectionCounter interface {
	CountsByIdentity() map[string]int
}

// Config holds the admission ceilings.
type Config struct {
	MaxConnectionsPerIP int           // live connections allowed per identity
	MaxRequestsPerIP    int           // session requests allowed per identity per window
	RequestWindow       time.Duration // request counter reset period
}

// Controller throttles session creation per identity. Request counters are
// cleared together on each window boundary, not per-identity sliding windows.
type Controller struct {
	cfg    Config
	conns  ConnectionCounter
	logger *slog.Logger

	mu       sync.Mutex
	requests map[string]int
}

// NewController creates an admission controller.
func NewController(cfg Config, conns ConnectionCounter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		conns:    conns,
		logger:   logger,
		requests: make(map[string]int),
	}
}

// Start runs the periodic window reset until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.RequestWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.resetWindow()
			}
		}
	}()
}

// IsBlocked decides whether a session request from identity is denied. Every
// call counts against the identity's request budget, blocked or not. An empty
// identity cannot be throttled: the check fails open with a warning.
func (c *Controller) IsBlocked(identity string) bool {
	if identity == "" {
		c.logger.Warn("requester identity unresolved, allowing session request")
		return false
	}

	live := c.conns.CountsByIdentity()[identity]

	c.mu.Lock()
	c.requests[identity]++
	reqs := c.requests[identity]
	c.mu.Unlock()

	if live > c.cfg.MaxConnectionsPerIP {
		c.logger.Info("session request blocked",
			"identity", identity,
			"live_connections", live,
			"limit", c.cfg.MaxConnectionsPerIP,
		)
		metrics.AdmissionDenied.WithLabelValues("connections").Inc()
		return true
	}

	if reqs > c.cfg.MaxRequestsPerIP {
		c.logger.Info("session request blocked",
			"identity", identity,
			"requests", reqs,
			"limit", c.cfg.MaxRequestsPerIP,
		)
		metrics.AdmissionDenied.WithLabelValues("requests").Inc()
		return true
	}

	return false
}

// resetWindow clears all identities' request counters at once.
func (c *Controller) resetWindow() {
	c.mu.Lock()
	c.requests = make(map[string]int)
	c.mu.Unlock()
}
