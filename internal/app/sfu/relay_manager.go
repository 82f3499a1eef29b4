package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.StreamID]*Relay

	// OnForward observes the payload size of every relayed packet.
	OnForward func(bytes int)
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[domain.StreamID]*Relay),
	}
}

// StartRelay creates a new Relay for stream and starts its loop. onEnd runs
// once if the source track ends before the relay is stopped.
func (m *RelayManager) StartRelay(ctx context.Context, stream domain.StreamID, track core.RemoteTrack, onEnd func()) {
	logger := log.With().
		Str("module", "sfu").
		Str("stream_id", string(stream)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)
	relay.onForward = m.OnForward

	m.mu.Lock()
	if old, ok := m.relays[stream]; ok {
		logger.Info().Msg("replacing existing relay for stream")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[stream] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger, onEnd)
}

// NewSubscriberTrack creates a local track carrying the stream's codec.
func (m *RelayManager) NewSubscriberTrack(stream domain.StreamID) (*webrtc.TrackLocalStaticRTP, error) {
	m.mu.RLock()
	relay, ok := m.relays[stream]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no relay for %s", stream)
	}
	return webrtc.NewTrackLocalStaticRTP(
		relay.Src.Codec().RTPCodecCapability,
		"audio",
		string(stream),
	)
}

// AddSubscriber attaches a muted OutTrack to the relay of stream for dst.
// It carries media once ActivateSubscriber is called.
func (m *RelayManager) AddSubscriber(stream domain.StreamID, dst core.ConnID, localTrack *webrtc.TrackLocalStaticRTP) bool {
	m.mu.RLock()
	relay, ok := m.relays[stream]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	ot := NewOutTrack(localTrack)
	ot.MarkMuted()
	relay.AddOutTrack(dst, ot)
	return true
}

// ActivateSubscriber unmutes dst's OutTrack once its answer is installed.
func (m *RelayManager) ActivateSubscriber(stream domain.StreamID, dst core.ConnID) bool {
	ot, ok := m.outTrack(stream, dst)
	if !ok || ot.GetState() == TrackStateDelete {
		return false
	}
	ot.MarkOk()
	return true
}

// MarkSubscriberDelete marks dst's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(stream domain.StreamID, dst core.ConnID) {
	if ot, ok := m.outTrack(stream, dst); ok {
		ot.MarkDelete()
	}
}

func (m *RelayManager) outTrack(stream domain.StreamID, dst core.ConnID) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[stream]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	relay.mu.RLock()
	defer relay.mu.RUnlock()
	ot, ok := relay.outTracks[dst]
	return ot, ok
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(stream domain.StreamID) {
	m.mu.Lock()
	relay, ok := m.relays[stream]
	if ok {
		delete(m.relays, stream)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

func (m *RelayManager) HasRelay(stream domain.StreamID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[stream]
	return ok
}

// Stats returns the traffic seen on stream's source.
func (m *RelayManager) Stats(stream domain.StreamID) (media.Stats, bool) {
	m.mu.RLock()
	relay, ok := m.relays[stream]
	m.mu.RUnlock()
	if !ok {
		return media.Stats{}, false
	}
	return relay.Stats.Snapshot(), true
}

// Subscribers counts the live subscriber tracks of stream.
func (m *RelayManager) Subscribers(stream domain.StreamID) int {
	m.mu.RLock()
	relay, ok := m.relays[stream]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return relay.Subscribers()
}
