package upstream

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	// ErrStaleConnection is surfaced on Errors() when the heartbeat detects
	// prolonged silence and closes the connection.
	ErrStaleConnection = errors.New("connection stale (no ping)")

	// ErrAlreadyClosed is returned by Connect after Disconnect was called.
	ErrAlreadyClosed = errors.New("already closed")
)

// State is the upstream-reported session state returned by Connect.
type State struct {
	RoomID              string // upstream room identifier
	UpgradedToWebsocket bool   // true when the source upgraded to a persistent transport
}

// SessionState is the live connection state reported by State().
type SessionState struct {
	IsConnected bool
}

// frame is the wire shape of an upstream message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SessionConfig configures one upstream session.
type SessionConfig struct {
	WSURL            string // upstream websocket endpoint
	Target           string // target identity the session follows
	Origin           string // Origin header, some sources require it
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // write deadline for control frames
	PingTimeout      time.Duration // max silence before the session is considered stale
	BufferSize       int           // event channel buffer size
}
