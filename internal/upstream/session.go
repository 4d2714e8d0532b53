// Package upstream implements the client side of one live-session connection
// to the external streaming source.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsecast/relay/internal/event"
)

// Session is a single logical connection to the streaming source for one
// target identity. Connect may be called again after the session drops; the
// Events and Errors channels survive reconnects. Disconnect is terminal.
type Session interface {
	// Connect establishes the connection and returns the upstream-reported
	// session state.
	Connect(ctx context.Context) (State, error)

	// Disconnect closes the session. Idempotent.
	Disconnect() error

	// State returns the live connection state. The bool is false when the
	// session has never been connected.
	State() (SessionState, bool)

	// Events returns the channel of decoded upstream events.
	Events() <-chan event.Event

	// Errors returns the channel of non-fatal per-message errors.
	Errors() <-chan error
}

// Factory creates a Session for a target identity.
type Factory func(target string) Session

// NewFactory returns a Factory producing websocket sessions with cfg applied.
// The target is filled in per session.
func NewFactory(cfg SessionConfig, logger *slog.Logger) Factory {
	return func(target string) Session {
		sessionCfg := cfg
		sessionCfg.Target = target
		return NewSession(sessionCfg, logger)
	}
}

// session implements the Session interface over gorilla/websocket.
type session struct {
	cfg    SessionConfig
	logger *slog.Logger

	// Output channels
	events chan event.Event
	errors chan error

	// Closed on Disconnect; unblocks a pending lifecycle emit once the
	// consumer is gone.
	closedCh chan struct{}

	// State
	mu            sync.RWMutex
	conn          *websocket.Conn
	connected     bool
	everConnected bool
	closed        bool
	lastPingAt    time.Time
	done          chan struct{} // per-connection, re-armed on each Connect
}

// NewSession creates a session for the configured target.
func NewSession(cfg SessionConfig, logger *slog.Logger) Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &session{
		cfg:      cfg,
		logger:   logger.With("target", cfg.Target),
		events:   make(chan event.Event, cfg.BufferSize),
		errors:   make(chan error, 1),
		closedCh: make(chan struct{}),
	}
}

// Connect dials the source and waits for its hello frame.
func (s *session) Connect(ctx context.Context) (State, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, ErrAlreadyClosed
	}
	if s.connected {
		s.mu.Unlock()
		return State{}, fmt.Errorf("session for %q already connected", s.cfg.Target)
	}
	s.mu.Unlock()

	wsURL, err := s.buildURL()
	if err != nil {
		return State{}, fmt.Errorf("build upstream url: %w", err)
	}

	header := http.Header{}
	if s.cfg.Origin != "" {
		header.Set("Origin", s.cfg.Origin)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return State{}, err
	}

	// The source announces the room before streaming events.
	state, err := readHello(conn, s.cfg.HandshakeTimeout)
	if err != nil {
		conn.Close()
		return State{}, fmt.Errorf("upstream hello: %w", err)
	}

	done := make(chan struct{})

	s.mu.Lock()
	// Disconnect may have raced the dial; don't leave the socket open.
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return State{}, ErrAlreadyClosed
	}
	s.conn = conn
	s.connected = true
	s.everConnected = true
	s.lastPingAt = time.Now()
	s.done = done
	s.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		s.mu.Lock()
		s.lastPingAt = time.Now()
		s.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(data string) error {
		s.mu.Lock()
		s.lastPingAt = time.Now()
		s.mu.Unlock()
		return nil
	})

	go s.readLoop(conn, done, state.RoomID)
	go s.heartbeatLoop(conn, done)

	s.logger.Debug("upstream session connected",
		"room", state.RoomID,
		"upgraded", state.UpgradedToWebsocket,
	)

	return state, nil
}

// Disconnect closes the session permanently.
func (s *session) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasConnected := s.connected
	s.connected = false
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	close(s.closedCh)

	// done is only open while connected; markDisconnected closes it otherwise.
	if wasConnected && done != nil {
		close(done)
	}

	if wasConnected && conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// State returns the live connection state.
func (s *session) State() (SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.everConnected {
		return SessionState{}, false
	}
	return SessionState{IsConnected: s.connected}, true
}

// Events returns the events channel.
func (s *session) Events() <-chan event.Event {
	return s.events
}

// Errors returns the errors channel.
func (s *session) Errors() <-chan error {
	return s.errors
}

// buildURL appends the target identity to the configured endpoint.
func (s *session) buildURL() (string, error) {
	u, err := url.Parse(s.cfg.WSURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("target", s.cfg.Target)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readHello reads the initial frame announcing the room state.
func readHello(conn *websocket.Conn, timeout time.Duration) (State, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return State{}, err
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return State{}, fmt.Errorf("parse hello frame: %w", err)
	}
	if f.Event != "hello" {
		return State{}, fmt.Errorf("expected hello frame, got %q", f.Event)
	}

	var hello struct {
		RoomID              string `json:"roomId"`
		UpgradedToWebsocket bool   `json:"upgradedToWebsocket"`
	}
	if err := json.Unmarshal(f.Data, &hello); err != nil {
		return State{}, fmt.Errorf("parse hello payload: %w", err)
	}

	return State{
		RoomID:              hello.RoomID,
		UpgradedToWebsocket: hello.UpgradedToWebsocket,
	}, nil
}

// markDisconnected flips the connected flag and stops the per-connection
// goroutines. Returns false if the connection was already down.
func (s *session) markDisconnected(done chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.done != done {
		return false
	}
	s.connected = false
	close(done)
	return true
}

// readLoop decodes frames into typed events until the connection dies.
func (s *session) readLoop(conn *websocket.Conn, done chan struct{}, room string) {
	for {
		select {
		case <-done:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Disconnect() is called
			select {
			case <-done:
				return
			default:
			}

			if s.markDisconnected(done) {
				s.emitLifecycle(event.Event{Kind: event.KindDisconnected, Room: room, ReceivedAt: receivedAt})
			}
			return
		}

		s.lastPingTouch()

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("malformed upstream frame", "error", err)
			select {
			case s.errors <- fmt.Errorf("malformed frame: %w", err):
			default:
			}
			continue
		}

		kind := event.Kind(f.Event)
		switch {
		case kind == event.KindStreamEnd:
			s.emitLifecycle(event.Event{Kind: event.KindStreamEnd, Room: room, ReceivedAt: receivedAt})

		case event.ContentKind(kind):
			s.emit(event.Event{
				Kind:       kind,
				Room:       room,
				Payload:    f.Data,
				ReceivedAt: receivedAt,
			})

		default:
			s.logger.Debug("skipping upstream event", "event", f.Event)
		}
	}
}

// emit forwards a content event, dropping it when the buffer is full.
func (s *session) emit(ev event.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, dropping event", "kind", ev.Kind)
	}
}

// emitLifecycle delivers a connection-state event even when the buffer is
// full. These drive the manager's reconnect bookkeeping and must never be
// dropped; the send only gives up once the session itself is closed.
func (s *session) emitLifecycle(ev event.Event) {
	select {
	case s.events <- ev:
	case <-s.closedCh:
	}
}

// lastPingTouch records data-frame activity for staleness tracking.
func (s *session) lastPingTouch() {
	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

// heartbeatLoop sends keepalives and detects stale connections.
func (s *session) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	interval := s.cfg.PingTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			s.mu.RLock()
			lastPing := s.lastPingAt
			s.mu.RUnlock()

			if s.cfg.PingTimeout > 0 && time.Since(lastPing) > s.cfg.PingTimeout {
				s.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", s.cfg.PingTimeout,
				)
				conn.Close()
				select {
				case s.errors <- ErrStaleConnection:
				default:
				}
				if s.markDisconnected(done) {
					s.emitLifecycle(event.Event{Kind: event.KindDisconnected, ReceivedAt: time.Now()})
				}
				return
			}
		}
	}
}
