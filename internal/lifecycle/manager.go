// Package lifecycle owns the per-session connection state machine: one
// upstream session per manager, with bounded exponential-backoff reconnection
// and teardown on subscriber disconnect.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsecast/relay/internal/event"
	"github.com/pulsecast/relay/internal/metrics"
	"github.com/pulsecast/relay/internal/upstream"
)

// Config holds the reconnect policy for one manager.
type Config struct {
	Target               string        // target identity the session follows
	MaxReconnectAttempts int           // attempts before giving up
	ReconnectBaseWait    time.Duration // first backoff wait
	ReconnectMaxWait     time.Duration // backoff cap
	EventBuffer          int           // outbound event channel buffer
	VerboseLogging       bool          // log forwarded content events
}

// Manager wraps exactly one upstream session. It emits lifecycle and content
// events on Events(); failures never escape as errors (they become
// "disconnected" events). All state transitions happen on the manager's run
// goroutine; Disconnect may be called from any goroutine.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	session upstream.Session
	gauge   *Gauge
	clock   Clock

	out chan event.Event

	// Cross-goroutine flags, checked from the run goroutine.
	clientDisconnected atomic.Bool
	reconnectEnabled   atomic.Bool
	connActive         atomic.Bool // guards exactly-once gauge decrement per connection
	closing            chan struct{}
	closeOnce          sync.Once

	// Run-goroutine-owned reconnect bookkeeping.
	reconnectCount int
	reconnectWait  time.Duration
	timerC         <-chan time.Time

	stateMu sync.RWMutex
	state   State

	wg sync.WaitGroup
}

// NewManager creates a manager for one upstream session. The session must be
// freshly constructed; the manager owns it from here on.
func NewManager(cfg Config, session upstream.Session, gauge *Gauge, clock Clock, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 64
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger.With("target", cfg.Target),
		session: session,
		gauge:   gauge,
		clock:   clock,
		out:     make(chan event.Event, cfg.EventBuffer),
		closing: make(chan struct{}),
		state:   StateIdle,
	}
	m.reconnectEnabled.Store(true)
	m.reconnectWait = cfg.ReconnectBaseWait
	return m
}

// Start launches the manager's run goroutine, beginning with the initial
// connect attempt.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Events returns the channel of events emitted to the owning subscriber. It is
// closed when the manager's run goroutine exits.
func (m *Manager) Events() <-chan event.Event {
	return m.out
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Target returns the target identity this manager follows.
func (m *Manager) Target() string {
	return m.cfg.Target
}

// Disconnect tears the session down on behalf of the subscriber. Idempotent:
// the second and later calls are no-ops. Future reconnect timers are cancelled
// via the enable flag; an in-flight connect attempt is not aborted, its
// eventual success is neutralized by the client-disconnected check instead.
func (m *Manager) Disconnect() {
	if m.clientDisconnected.Swap(true) {
		return
	}
	m.reconnectEnabled.Store(false)

	if st, ok := m.session.State(); ok && st.IsConnected {
		m.session.Disconnect()
		m.decrementOnce()
	}

	m.closeOnce.Do(func() { close(m.closing) })
}

// Wait blocks until the run goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// run is the manager's event loop. Every transition of the state machine
// happens here, so per-manager state needs no locking beyond the observer
// mutex on state itself.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.out)

	if !m.connect(ctx, false) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			if st, ok := m.session.State(); ok && st.IsConnected {
				m.session.Disconnect()
			}
			m.decrementOnce()
			return

		case <-m.closing:
			// The disconnected event may have been lost or still be
			// queued; the slot is released here either way.
			m.decrementOnce()
			m.setState(StateClientClosed)
			return

		case <-m.timerC:
			m.timerC = nil
			// State may have changed during the wait; re-check at fire time.
			if !m.reconnectEnabled.Load() || m.reconnectCount >= m.cfg.MaxReconnectAttempts {
				continue
			}
			m.reconnectCount++
			m.reconnectWait = nextWait(m.reconnectWait, m.cfg.ReconnectMaxWait)
			metrics.ReconnectAttempts.Inc()
			m.connect(ctx, true)

		case err := <-m.session.Errors():
			// Non-fatal per-message errors don't affect connection state.
			m.logger.Warn("upstream protocol error", "error", err)

		case ev, ok := <-m.session.Events():
			if !ok {
				m.decrementOnce()
				return
			}
			m.handleUpstreamEvent(ev)
		}
	}
}

// handleUpstreamEvent reacts to one upstream event.
func (m *Manager) handleUpstreamEvent(ev event.Event) {
	switch ev.Kind {
	case event.KindStreamEnd:
		// Natural end of the stream: never reconnect again.
		m.reconnectEnabled.Store(false)
		m.logger.Info("upstream stream ended")
		m.emit(ev)

	case event.KindDisconnected:
		m.decrementOnce()
		// A spurious disconnect after stream end or exhaustion changes nothing.
		if m.State().terminal() {
			return
		}
		m.setState(StateDisconnected)
		m.scheduleReconnect("upstream connection closed")

	default:
		if m.cfg.VerboseLogging {
			m.logger.Debug("forwarding upstream event", "kind", ev.Kind)
		}
		m.emit(ev)
	}
}

// connect performs one connect attempt. Returns false when the manager has
// reached a terminal state and the run loop should exit.
func (m *Manager) connect(ctx context.Context, isReconnect bool) bool {
	if isReconnect {
		m.setState(StateReconnecting)
	} else {
		m.setState(StateConnecting)
	}

	state, err := m.session.Connect(ctx)
	if err != nil {
		if !isReconnect {
			// Initial attempt: surface once, no retry.
			m.logger.Warn("initial connect failed", "error", err)
			m.setState(StateGaveUp)
			m.emit(event.Disconnected(m.cfg.Target, err.Error()))
			return false
		}
		m.logger.Warn("reconnect attempt failed",
			"attempt", m.reconnectCount,
			"error", err,
		)
		m.scheduleReconnect(err.Error())
		return true
	}

	m.gauge.Inc()
	m.connActive.Store(true)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	m.reconnectCount = 0
	m.reconnectWait = m.cfg.ReconnectBaseWait

	// The subscriber may have disconnected while the attempt was in flight;
	// tear down instead of declaring success.
	if m.clientDisconnected.Load() {
		m.session.Disconnect()
		m.decrementOnce()
		m.setState(StateClientClosed)
		return false
	}

	m.setState(StateConnected)

	if isReconnect {
		m.logger.Info("reconnected", "room", state.RoomID)
		return true
	}

	m.logger.Info("connected",
		"room", state.RoomID,
		"upgraded", state.UpgradedToWebsocket,
	)
	m.emit(event.Connected(state.RoomID, state.UpgradedToWebsocket))
	return true
}

// scheduleReconnect arms the backoff timer, or gives up when reconnection is
// disabled or attempts are exhausted.
func (m *Manager) scheduleReconnect(reason string) {
	if !m.reconnectEnabled.Load() || m.reconnectCount >= m.cfg.MaxReconnectAttempts {
		if !m.State().terminal() {
			m.logger.Info("abandoning reconnection",
				"attempts", m.reconnectCount,
				"reason", reason,
			)
			m.setState(StateGaveUp)
			m.emit(event.Disconnected(m.cfg.Target, "Connection lost. "+reason))
		}
		return
	}

	m.logger.Info("scheduling reconnect",
		"wait", m.reconnectWait,
		"attempt", m.reconnectCount+1,
		"reason", reason,
	)
	m.setState(StateReconnecting)
	m.timerC = m.clock.After(m.reconnectWait)
}

// nextWait doubles the backoff wait, capped at max.
func nextWait(wait, max time.Duration) time.Duration {
	wait *= 2
	if wait > max {
		wait = max
	}
	return wait
}

// decrementOnce releases this connection's slot in the global gauge exactly
// once, whichever teardown path runs first.
func (m *Manager) decrementOnce() {
	if m.connActive.Swap(false) {
		m.gauge.Dec()
		metrics.ConnectionsActive.Dec()
	}
}

// emit forwards an event to the owner, dropping it when the buffer is full.
func (m *Manager) emit(ev event.Event) {
	select {
	case m.out <- ev:
	default:
		m.logger.Warn("subscriber event buffer full, dropping event", "kind", ev.Kind)
	}
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}
