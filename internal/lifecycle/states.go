package lifecycle

// State is the lifecycle phase of a managed upstream session.
type State int

const (
	// StateIdle is the constructed, not-yet-connecting state.
	StateIdle State = iota

	// StateConnecting covers the initial connect attempt.
	StateConnecting

	// StateConnected means the upstream session is live.
	StateConnected

	// StateDisconnected means the session dropped and a reconnect decision
	// is pending.
	StateDisconnected

	// StateReconnecting means a backoff timer is armed or a reconnect
	// attempt is in flight.
	StateReconnecting

	// StateGaveUp is terminal: initial connect failed or reconnect attempts
	// were exhausted.
	StateGaveUp

	// StateClientClosed is terminal: the owning subscriber disconnected.
	StateClientClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateGaveUp:
		return "gave_up"
	case StateClientClosed:
		return "client_closed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further connect attempts can happen from s.
func (s State) terminal() bool {
	return s == StateGaveUp || s == StateClientClosed
}
