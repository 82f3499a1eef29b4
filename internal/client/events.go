package client

import (
	"sync"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/protocol"
)

// StateChange is published on every status transition.
type StateChange struct {
	Status domain.Status
	Detail string
}

// topic is an ordered subscriber list for one payload type.
type topic[T any] struct {
	mu   sync.RWMutex
	next int
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

func (tp *topic[T]) subscribe(fn func(T)) (unsubscribe func()) {
	tp.mu.Lock()
	tp.next++
	id := tp.next
	tp.subs = append(tp.subs, subscriber[T]{id: id, fn: fn})
	tp.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			tp.mu.Lock()
			defer tp.mu.Unlock()
			for i, s := range tp.subs {
				if s.id == id {
					tp.subs = append(tp.subs[:i:i], tp.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (tp *topic[T]) publish(v T) {
	tp.mu.RLock()
	subs := make([]subscriber[T], len(tp.subs))
	copy(subs, tp.subs)
	tp.mu.RUnlock()
	for _, s := range subs {
		s.fn(v)
	}
}

// Events is the client's notification registry. Handlers run after the
// client's lock is released, one at a time and in transition order, and
// should not block. A handler may call back into the Client; the
// notifications that call causes are delivered after the handler returns.
type Events struct {
	state   topic[StateChange]
	audio   topic[protocol.AudioData]
	streams topic[[]domain.StreamID]
	added   topic[domain.StreamID]
	removed topic[domain.StreamID]
	track   topic[core.RemoteTrack]
}

func (e *Events) OnStateChanged(fn func(StateChange)) func() { return e.state.subscribe(fn) }

func (e *Events) OnAudioData(fn func(protocol.AudioData)) func() { return e.audio.subscribe(fn) }

// OnStreamsChanged receives the full list from every available_streams.
func (e *Events) OnStreamsChanged(fn func([]domain.StreamID)) func() {
	return e.streams.subscribe(fn)
}

func (e *Events) OnStreamAdded(fn func(domain.StreamID)) func() { return e.added.subscribe(fn) }

func (e *Events) OnStreamRemoved(fn func(domain.StreamID)) func() { return e.removed.subscribe(fn) }

func (e *Events) OnTrack(fn func(core.RemoteTrack)) func() { return e.track.subscribe(fn) }
