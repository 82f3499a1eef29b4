package core

import "github.com/dkeye/voicestream/internal/domain"

// ConnID identifies one signaling connection on the relay.
type ConnID string

// Role is what a relay connection currently does.
type Role int

const (
	RoleNone Role = iota
	RoleSender
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "none"
	}
}

// ConnSession binds a relay connection to its transport endpoints.
type ConnSession interface {
	ID() ConnID
	Signal() SignalConnection
	Peer() RelayPeer
	Role() Role
	StreamID() domain.StreamID
	// UpdatePeer swaps the peer and returns the previous one.
	UpdatePeer(RelayPeer) (prev RelayPeer)
	UpdateRole(Role, domain.StreamID) ConnSession
}
