// Package domain contains entities without transport, just meta-data
package domain

// Status is the authoritative session state observers read.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

func (s Status) String() string { return string(s) }

// Active reports whether a session is desired in this state, i.e. an
// unexpected channel loss should be retried instead of reported.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusConnected
}

// Mode is what the local side does with audio in the current attempt.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSend
	ModeReceive
)

func (m Mode) String() string {
	switch m {
	case ModeSend:
		return "send"
	case ModeReceive:
		return "receive"
	default:
		return "idle"
	}
}
