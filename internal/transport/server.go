// Package transport serves downstream subscribers: a /ws endpoint where
// clients request upstream sessions and receive relayed events, and static
// assets for everything else.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsecast/relay/internal/admission"
	"github.com/pulsecast/relay/internal/hub"
	"github.com/pulsecast/relay/internal/lifecycle"
	"github.com/pulsecast/relay/internal/upstream"
)

// Config holds the subscriber-facing server settings.
type Config struct {
	Addr         string
	StaticDir    string        // directory served for non-websocket paths; empty disables
	WriteTimeout time.Duration // subscriber socket write deadline
	PingInterval time.Duration // subscriber keepalive period
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts subscriber connections and owns their read/write pumps.
type Server struct {
	cfg        Config
	hub        *hub.Hub
	gate       *admission.Controller
	sessions   upstream.Factory
	managerCfg lifecycle.Config // Target filled in per request
	gauge      *lifecycle.Gauge
	clock      lifecycle.Clock
	logger     *slog.Logger
}

// NewServer wires the transport against the hub, the admission gate, and the
// session factory. managerCfg carries the reconnect policy applied to every
// session the transport creates.
func NewServer(
	cfg Config,
	h *hub.Hub,
	gate *admission.Controller,
	sessions upstream.Factory,
	managerCfg lifecycle.Config,
	gauge *lifecycle.Gauge,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Server{
		cfg:        cfg,
		hub:        h,
		gate:       gate,
		sessions:   sessions,
		managerCfg: managerCfg,
		gauge:      gauge,
		clock:      lifecycle.SystemClock(),
		logger:     logger.With("component", "transport"),
	}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return mux
}

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	s.logger.Info("transport server listening", "addr", s.cfg.Addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleWS upgrades a subscriber socket, registers it with the hub, and runs
// its read loop until the socket dies.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity := s.resolveIdentity(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := s.hub.Register(identity)
	c := newClient(s, conn, sub)
	defer c.teardown()

	go c.writePump()
	c.readLoop(r.Context())
}

// resolveIdentity extracts the throttling identity from the request. An
// unresolvable identity is passed through empty so admission fails open.
func (s *Server) resolveIdentity(r *http.Request) string {
	identity, err := admission.ResolveIdentity(r.RemoteAddr, r.Header.Get(admission.ForwardedForHeader))
	if err != nil {
		s.logger.Warn("could not resolve subscriber identity",
			"remote", r.RemoteAddr,
			"error", err,
		)
		return ""
	}
	return identity
}
