package orch

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/voicestream/internal/app"
	"github.com/dkeye/voicestream/internal/app/sfu"
	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/metrics"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/rs/zerolog/log"
)

const DefaultGatherTimeout = 2 * time.Second

type Orchestrator struct {
	Registry *app.Registry
	Streams  *app.StreamTable
	Policy   app.Policy
	Relays   *sfu.RelayManager
	Peers    core.RelayPeerFactory
	Metrics  *metrics.Metrics

	GatherTimeout time.Duration

	// mu serialises peer and role transitions of sessions. It is never
	// held while waiting for ICE gathering.
	mu  sync.Mutex
	now func() time.Time
}

func New(peers core.RelayPeerFactory, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		Registry:      app.NewRegistry(),
		Streams:       app.NewStreamTable(),
		Policy:        app.SimplePolicy{},
		Relays:        sfu.NewRelayManager(),
		Peers:         peers,
		Metrics:       m,
		GatherTimeout: DefaultGatherTimeout,
		now:           time.Now,
	}
	if m != nil {
		o.Relays.OnForward = m.AddRelayBytes
	}
	return o
}

// Connect greets a freshly bound session with the current stream list.
func (o *Orchestrator) Connect(sess core.ConnSession) {
	if o.Metrics != nil {
		o.Metrics.Connections.Set(float64(o.Registry.Count()))
	}
	o.Send(sess, protocol.AvailableStreams{Streams: o.Streams.IDs()})
}

// Disconnect releases everything the session owned and unbinds it.
func (o *Orchestrator) Disconnect(sess core.ConnSession) {
	o.mu.Lock()
	prev := o.releaseLocked(sess)
	o.mu.Unlock()
	closePeer(prev)

	o.Registry.Unbind(sess.ID())
	if o.Metrics != nil {
		o.Metrics.Connections.Set(float64(o.Registry.Count()))
	}
	log.Info().Str("module", "orch").Str("cid", string(sess.ID())).Msg("session disconnected")
}

// Send encodes m and queues it on the session's signaling connection.
func (o *Orchestrator) Send(sess core.ConnSession, m protocol.ServerMessage) {
	data, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", string(m.Type())).Msg("encode failed")
		return
	}
	err = sess.Signal().TrySend(core.Frame(data))
	if err == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "orch").Str("cid", string(sess.ID())).Msg("send failed")
		return
	}
	o.onBackpressure(sess)
}

// Broadcast sends m to every connected session.
func (o *Orchestrator) Broadcast(m protocol.ServerMessage) {
	for _, sess := range o.Registry.All() {
		o.Send(sess, m)
	}
}

func (o *Orchestrator) onBackpressure(sess core.ConnSession) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(sess) {
	case app.KickConn:
		log.Warn().Str("module", "orch").Str("cid", string(sess.ID())).Msg("kicking slow connection")
		o.Registry.Cancel(sess.ID())
	case app.DropFrame:
		log.Debug().Str("module", "orch").Str("cid", string(sess.ID())).Msg("frame dropped")
	case app.NoAction:
	}
}

func (o *Orchestrator) streamsChanged() {
	if o.Metrics != nil {
		o.Metrics.Streams.Set(float64(o.Streams.Len()))
	}
}
