package core

import (
	"sync"

	"github.com/dkeye/voicestream/internal/domain"
)

// connSession implements ConnSession. Peer and role change while the
// signaling connection lives, so they are guarded.
type connSession struct {
	id     ConnID
	signal SignalConnection

	mu     sync.RWMutex
	peer   RelayPeer
	role   Role
	stream domain.StreamID
}

func NewConnSession(id ConnID, signal SignalConnection) ConnSession {
	return &connSession{id: id, signal: signal}
}

func (s *connSession) ID() ConnID               { return s.id }
func (s *connSession) Signal() SignalConnection { return s.signal }

func (s *connSession) Peer() RelayPeer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer
}

func (s *connSession) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *connSession) StreamID() domain.StreamID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

func (s *connSession) UpdatePeer(p RelayPeer) RelayPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.peer
	s.peer = p
	return prev
}

func (s *connSession) UpdateRole(r Role, stream domain.StreamID) ConnSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
	s.stream = stream
	return s
}
