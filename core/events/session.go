package events

const (
	// KindSessionStateChanged identifies an engine state transition.
	KindSessionStateChanged Kind = "session.state_changed"
	// KindSessionFailed identifies the terminal failure of a session.
	KindSessionFailed Kind = "session.failed"
	// KindConnectionStateChanged identifies a channel connection transition.
	KindConnectionStateChanged Kind = "connection.state_changed"
)

// SessionStateChanged reports an engine state transition. States are the
// engine's state names, e.g. "listening".
type SessionStateChanged struct {
	Base
	SessionID string
	From      string
	To        string
}

// NewSessionStateChanged creates a session state changed event.
func NewSessionStateChanged(sessionID, from, to string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), SessionID: sessionID, From: from, To: to}
}

// SessionFailed reports why a session failed.
type SessionFailed struct {
	Base
	SessionID string
	Error     string
}

// NewSessionFailed creates a session failed event.
func NewSessionFailed(sessionID, err string) SessionFailed {
	return SessionFailed{Base: NewBase(KindSessionFailed), SessionID: sessionID, Error: err}
}

// ConnectionStateChanged reports a connection transition. Attempt is the
// reconnect attempt number while reconnecting, zero otherwise.
type ConnectionStateChanged struct {
	Base
	SessionID string
	State     string
	Attempt   int
}

// NewConnectionStateChanged creates a connection state changed event.
func NewConnectionStateChanged(sessionID, state string, attempt int) ConnectionStateChanged {
	return ConnectionStateChanged{Base: NewBase(KindConnectionStateChanged), SessionID: sessionID, State: state, Attempt: attempt}
}
