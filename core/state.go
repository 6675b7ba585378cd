package orchestration

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
	StateSpeaking     State = "speaking"
	StateReconnecting State = "reconnecting"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// IsTerminal reports whether the session in this state is over.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// canStart reports whether Start may begin a new session from s.
func (s State) canStart() bool {
	return s == StateIdle || s.IsTerminal()
}

// isActive reports whether a session is running its workers.
func (s State) isActive() bool {
	switch s {
	case StateListening, StateSpeaking, StateReconnecting:
		return true
	default:
		return false
	}
}

type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionFailed       ConnectionState = "failed"
)
