package app

import (
	"context"
	"sync"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session core.ConnSession
	Cancel  context.CancelFunc
}

// Registry tracks every live relay connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.ConnID]*sessionEntry),
	}
}

func (r *Registry) Bind(sess core.ConnSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID()] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("cid", string(sess.ID())).Msg("bound session")
}

func (r *Registry) GetSession(cid core.ConnID) (core.ConnSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[cid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("unbind session")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of every session.
func (r *Registry) All() []core.ConnSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.Session)
	}
	return out
}

// ReceiversOf returns the sessions currently receiving stream.
func (r *Registry) ReceiversOf(stream domain.StreamID) []core.ConnSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.ConnSession
	for _, e := range r.sessions {
		if e.Session.Role() == core.RoleReceiver && e.Session.StreamID() == stream {
			out = append(out, e.Session)
		}
	}
	return out
}

// Cancel stops the session's pumps; the controller unbinds on exit.
func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("canceled session")
	return true
}
