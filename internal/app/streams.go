package app

import (
	"slices"
	"sync"
	"time"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
)

// StreamInfo describes one published stream.
type StreamInfo struct {
	ID        domain.StreamID `json:"stream_id"`
	Source    core.ConnID     `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
	Receivers int             `json:"receivers"`
	// IdleSince is when the last receiver left, zero while someone listens.
	IdleSince time.Time `json:"idle_since,omitzero"`
}

// StreamTable keeps published streams in creation order.
type StreamTable struct {
	mu      sync.RWMutex
	order   []domain.StreamID
	streams map[domain.StreamID]*StreamInfo
	now     func() time.Time
}

func NewStreamTable() *StreamTable {
	return &StreamTable{
		streams: make(map[domain.StreamID]*StreamInfo),
		now:     time.Now,
	}
}

// StreamIDFor names the stream a sender connection publishes.
func StreamIDFor(cid core.ConnID) domain.StreamID {
	return domain.StreamID("stream_" + string(cid))
}

// Add registers a stream; re-adding an id moves it to the newest position.
func (t *StreamTable) Add(id domain.StreamID, src core.ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	t.order = append(t.order, id)
	t.streams[id] = &StreamInfo{ID: id, Source: src, CreatedAt: now, IdleSince: now}
}

func (t *StreamTable) Remove(id domain.StreamID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.streams[id]; !ok {
		return false
	}
	delete(t.streams, id)
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	return true
}

func (t *StreamTable) Has(id domain.StreamID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.streams[id]
	return ok
}

// IDs is never nil, so it encodes as a JSON array.
func (t *StreamTable) IDs() []domain.StreamID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.StreamID, len(t.order))
	copy(out, t.order)
	return out
}

func (t *StreamTable) Get(id domain.StreamID) (StreamInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.streams[id]
	if !ok {
		return StreamInfo{}, false
	}
	return *s, true
}

func (t *StreamTable) List() []StreamInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]StreamInfo, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.streams[id])
	}
	return out
}

func (t *StreamTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

func (t *StreamTable) Newest() (domain.StreamID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.order) == 0 {
		return "", false
	}
	return t.order[len(t.order)-1], true
}

func (t *StreamTable) AddReceiver(id domain.StreamID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.streams[id]; ok {
		s.Receivers++
		s.IdleSince = time.Time{}
	}
}

func (t *StreamTable) RemoveReceiver(id domain.StreamID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok || s.Receivers == 0 {
		return
	}
	s.Receivers--
	if s.Receivers == 0 {
		s.IdleSince = t.now()
	}
}

// Stale returns streams that had no receivers for longer than ttl.
func (t *StreamTable) Stale(ttl time.Duration) []domain.StreamID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	var out []domain.StreamID
	for _, id := range t.order {
		s := t.streams[id]
		if !s.IdleSince.IsZero() && now.Sub(s.IdleSince) > ttl {
			out = append(out, id)
		}
	}
	return out
}
