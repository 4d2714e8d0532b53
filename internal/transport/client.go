package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsecast/relay/internal/admission"
	"github.com/pulsecast/relay/internal/hub"
	"github.com/pulsecast/relay/internal/lifecycle"
)

// request is a control frame sent by a subscriber.
type request struct {
	Action string `json:"action"` // "connect" or "disconnect"
	Target string `json:"target,omitempty"`
}

// notice is a server-to-subscriber advisory or error frame.
type notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ctrlFrame is an out-of-band frame handed to the write pump. When close is
// set the pump sends a close message and shuts the socket after writing.
type ctrlFrame struct {
	payload any
	close   bool
}

// client owns one subscriber socket end to end. The read loop runs on the
// handler goroutine; all writes are serialized through the write pump, the
// socket's single writer.
type client struct {
	srv    *Server
	conn   *websocket.Conn
	sub    *hub.Subscriber
	logger *slog.Logger

	ctrl      chan ctrlFrame
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	mgr *lifecycle.Manager
}

func newClient(srv *Server, conn *websocket.Conn, sub *hub.Subscriber) *client {
	return &client{
		srv:    srv,
		conn:   conn,
		sub:    sub,
		logger: srv.logger.With("subscriber", sub.ID, "identity", sub.Identity),
		ctrl:   make(chan ctrlFrame, 4),
		done:   make(chan struct{}),
	}
}

// readLoop consumes subscriber requests until the socket dies.
func (c *client) readLoop(ctx context.Context) {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("subscriber read ended", "error", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(msg, &req); err != nil {
			c.sendNotice("error", "malformed request")
			continue
		}

		switch req.Action {
		case "connect":
			c.handleConnect(ctx, req.Target)
		case "disconnect":
			c.handleDisconnect()
		default:
			c.sendNotice("error", "unknown action: "+req.Action)
		}
	}
}

// handleConnect gates the session request through admission, then builds and
// starts a lifecycle manager for the target. A subscriber owns at most one
// manager at a time.
func (c *client) handleConnect(ctx context.Context, target string) {
	if target == "" {
		c.sendNotice("error", "connect requires a target")
		return
	}

	c.mu.Lock()
	busy := c.mgr != nil
	c.mu.Unlock()
	if busy {
		c.sendNotice("error", "a session is already active; disconnect first")
		return
	}

	if c.srv.gate.IsBlocked(c.sub.Identity) {
		c.logger.Info("session request denied", "target", target)
		c.sendCloseNotice("denied", admission.AdvisoryMessage)
		return
	}

	session := c.srv.sessions(target)
	cfg := c.srv.managerCfg
	cfg.Target = target
	mgr := lifecycle.NewManager(cfg, session, c.srv.gauge, c.srv.clock, c.logger)

	c.mu.Lock()
	c.mgr = mgr
	c.mu.Unlock()

	// Connect failures surface as "disconnected" events on the relay, not
	// as errors here.
	mgr.Start(ctx)
	go func() {
		c.srv.hub.Relay(mgr.Events(), c.sub)
		c.clearManager(mgr)
	}()
}

// handleDisconnect tears down the subscriber's current session, if any.
func (c *client) handleDisconnect() {
	c.mu.Lock()
	mgr := c.mgr
	c.mgr = nil
	c.mu.Unlock()

	if mgr != nil {
		mgr.Disconnect()
	}
}

// clearManager releases ownership once mgr's event channel has drained, so a
// later connect request can start fresh.
func (c *client) clearManager(mgr *lifecycle.Manager) {
	c.mu.Lock()
	if c.mgr == mgr {
		c.mgr = nil
	}
	c.mu.Unlock()
}

// teardown runs when the socket closes, whichever side closed it.
func (c *client) teardown() {
	c.handleDisconnect()
	c.srv.hub.Unregister(c.sub)
	c.closeOnce.Do(func() { close(c.done) })
	c.conn.Close()
}

// writePump is the socket's only writer: relayed events, control notices, and
// keepalive pings all funnel through here.
func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.sub.Out():
			if !ok {
				return
			}
			if err := c.writeJSON(ev); err != nil {
				c.conn.Close()
				return
			}

		case f := <-c.ctrl:
			if err := c.writeJSON(f.payload); err != nil {
				c.conn.Close()
				return
			}
			if f.close {
				deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""),
					deadline,
				)
				c.conn.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.conn.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *client) writeJSON(v any) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// sendNotice queues an informational frame, dropping it if the pump is
// backed up.
func (c *client) sendNotice(kind, message string) {
	select {
	case c.ctrl <- ctrlFrame{payload: notice{Kind: kind, Message: message}}:
	default:
		c.logger.Warn("control frame dropped", "kind", kind)
	}
}

// sendCloseNotice queues an advisory frame followed by a forced close.
func (c *client) sendCloseNotice(kind, message string) {
	select {
	case c.ctrl <- ctrlFrame{payload: notice{Kind: kind, Message: message}, close: true}:
	default:
		// Pump is wedged; close the socket directly.
		c.conn.Close()
	}
}
