package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/voicestream/internal/app"
	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const msgNoStream = "No audio stream available"

// StartSending prepares a peer that will publish stream_<cid> once the
// sender's audio track arrives.
func (o *Orchestrator) StartSending(sess core.ConnSession) {
	logger := log.With().Str("module", "orch").Str("cid", string(sess.ID())).Logger()

	peer, err := o.Peers.NewRelayPeer()
	if err != nil {
		logger.Error().Err(err).Msg("create sender peer")
		o.Send(sess, protocol.Error{Message: "Failed to create peer connection"})
		return
	}
	stream := app.StreamIDFor(sess.ID())
	peer.OnTrack(func(track core.RemoteTrack) { o.onSenderTrack(sess, peer, stream, track) })
	peer.OnClosed(func() { o.onPeerClosed(sess, peer) })

	o.mu.Lock()
	prev := o.releaseLocked(sess)
	sess.UpdatePeer(peer)
	sess.UpdateRole(core.RoleSender, stream)
	o.mu.Unlock()
	closePeer(prev)

	logger.Info().Str("stream_id", string(stream)).Msg("sender ready")
	o.Send(sess, protocol.SenderReady{ConnectionID: string(sess.ID())})
}

// HandleOffer answers a sender's offer once ICE gathering is done.
func (o *Orchestrator) HandleOffer(ctx context.Context, sess core.ConnSession, offer webrtc.SessionDescription) {
	logger := log.With().Str("module", "orch").Str("cid", string(sess.ID())).Logger()

	peer := sess.Peer()
	if peer == nil || sess.Role() != core.RoleSender {
		logger.Warn().Msg("offer without a sending session")
		return
	}

	gctx, cancel := context.WithTimeout(ctx, o.GatherTimeout)
	defer cancel()
	answer, err := peer.ApplyOfferAndCreateAnswer(gctx, offer)
	if err != nil {
		logger.Error().Err(err).Msg("answer sender offer")
		o.Send(sess, protocol.Error{Message: fmt.Sprintf("Failed to handle offer: %v", err)})
		return
	}
	if sess.Peer() != peer {
		logger.Debug().Msg("peer replaced during gathering, answer dropped")
		return
	}
	o.Send(sess, protocol.Answer{Answer: *answer})
}

func (o *Orchestrator) onSenderTrack(sess core.ConnSession, peer core.RelayPeer, stream domain.StreamID, track core.RemoteTrack) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	o.mu.Lock()
	if sess.Peer() != peer {
		o.mu.Unlock()
		return
	}
	o.Streams.Add(stream, sess.ID())
	o.Relays.StartRelay(context.Background(), stream, track, func() { o.onSourceEnded(stream) })
	o.mu.Unlock()

	o.streamsChanged()
	log.Info().Str("module", "orch").Str("cid", string(sess.ID())).Str("stream_id", string(stream)).
		Str("codec", track.Codec().MimeType).Msg("stream published")
	o.Broadcast(protocol.StreamAvailable{StreamID: stream})
}

func (o *Orchestrator) onSourceEnded(stream domain.StreamID) {
	log.Info().Str("module", "orch").Str("stream_id", string(stream)).Msg("source track ended")
	o.RemoveStream(stream)
}

// StartReceiving subscribes sess to stream, or to the newest stream when
// stream is empty, and sends it the relay's offer.
func (o *Orchestrator) StartReceiving(ctx context.Context, sess core.ConnSession, stream domain.StreamID) {
	logger := log.With().Str("module", "orch").Str("cid", string(sess.ID())).Logger()

	if stream == "" {
		newest, ok := o.Streams.Newest()
		if !ok {
			o.Send(sess, protocol.Error{Message: msgNoStream})
			return
		}
		stream = newest
	}
	if !o.Streams.Has(stream) || !o.Relays.HasRelay(stream) {
		logger.Info().Str("stream_id", string(stream)).Msg("requested stream not found")
		o.Send(sess, protocol.Error{Message: msgNoStream})
		return
	}

	peer, err := o.Peers.NewRelayPeer()
	if err != nil {
		logger.Error().Err(err).Msg("create receiver peer")
		o.Send(sess, protocol.Error{Message: "Failed to create peer connection"})
		return
	}
	out, err := o.Relays.NewSubscriberTrack(stream)
	if err == nil {
		err = peer.AddLocalTrack(out)
	}
	if err != nil {
		_ = peer.Close()
		logger.Error().Err(err).Str("stream_id", string(stream)).Msg("attach subscriber track")
		o.Send(sess, protocol.Error{Message: msgNoStream})
		return
	}
	peer.OnClosed(func() { o.onPeerClosed(sess, peer) })

	o.mu.Lock()
	prev := o.releaseLocked(sess)
	sess.UpdatePeer(peer)
	sess.UpdateRole(core.RoleReceiver, stream)
	o.Relays.AddSubscriber(stream, sess.ID(), out)
	o.Streams.AddReceiver(stream)
	o.mu.Unlock()
	closePeer(prev)

	gctx, cancel := context.WithTimeout(ctx, o.GatherTimeout)
	defer cancel()
	offer, err := peer.CreateOfferAndGather(gctx)
	if err != nil {
		logger.Error().Err(err).Msg("create receiver offer")
		o.Send(sess, protocol.Error{Message: fmt.Sprintf("Failed to create offer: %v", err)})
		return
	}
	if sess.Peer() != peer {
		logger.Debug().Msg("peer replaced during gathering, offer dropped")
		return
	}
	logger.Info().Str("stream_id", string(stream)).Msg("receiver subscribed")
	o.Send(sess, protocol.Offer{Offer: *offer})
}

// HandleAnswer installs a receiver's answer.
func (o *Orchestrator) HandleAnswer(sess core.ConnSession, answer webrtc.SessionDescription) {
	peer := sess.Peer()
	if peer == nil {
		log.Warn().Str("module", "orch").Str("cid", string(sess.ID())).Msg("answer without a peer")
		return
	}
	if err := peer.SetRemoteDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("cid", string(sess.ID())).Msg("set remote answer")
		o.Send(sess, protocol.Error{Message: fmt.Sprintf("Failed to handle answer: %v", err)})
		return
	}
	if sess.Role() == core.RoleReceiver {
		o.Relays.ActivateSubscriber(sess.StreamID(), sess.ID())
	}
}

// HandleCandidate adds a trickled candidate; ignored when there is no peer.
func (o *Orchestrator) HandleCandidate(sess core.ConnSession, c webrtc.ICECandidateInit) {
	peer := sess.Peer()
	if peer == nil {
		return
	}
	if err := peer.AddICECandidate(c); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("cid", string(sess.ID())).Msg("add ice candidate")
	}
}

func (o *Orchestrator) GetStreams(sess core.ConnSession) {
	o.Send(sess, protocol.AvailableStreams{Streams: o.Streams.IDs()})
}

// StopStream closes the session's peer but keeps its signaling connection.
func (o *Orchestrator) StopStream(sess core.ConnSession) {
	o.mu.Lock()
	prev := o.releaseLocked(sess)
	o.mu.Unlock()
	closePeer(prev)
}

// RemoveStream drops a published stream and tells everyone it ended.
// Receivers keep their peers; their outbound tracks just go quiet.
func (o *Orchestrator) RemoveStream(stream domain.StreamID) bool {
	if !o.Streams.Remove(stream) {
		return false
	}
	o.Relays.StopRelay(stream)
	o.streamsChanged()
	log.Info().Str("module", "orch").Str("stream_id", string(stream)).Msg("stream ended")
	o.Broadcast(protocol.StreamEnded{StreamID: stream})
	return true
}

func (o *Orchestrator) onPeerClosed(sess core.ConnSession, peer core.RelayPeer) {
	o.mu.Lock()
	if sess.Peer() != peer {
		o.mu.Unlock()
		return
	}
	prev := o.releaseLocked(sess)
	o.mu.Unlock()
	log.Info().Str("module", "orch").Str("cid", string(sess.ID())).Msg("peer transport closed")
	closePeer(prev)
}

// releaseLocked detaches the session's peer and undoes its role. The
// returned peer must be closed after o.mu is released.
func (o *Orchestrator) releaseLocked(sess core.ConnSession) core.RelayPeer {
	prev := sess.UpdatePeer(nil)
	role, stream := sess.Role(), sess.StreamID()
	sess.UpdateRole(core.RoleNone, "")

	switch role {
	case core.RoleSender:
		if info, ok := o.Streams.Get(stream); ok && info.Source == sess.ID() {
			o.RemoveStream(stream)
		}
	case core.RoleReceiver:
		o.Relays.MarkSubscriberDelete(stream, sess.ID())
		o.Streams.RemoveReceiver(stream)
	case core.RoleNone:
	}
	return prev
}

func closePeer(p core.RelayPeer) {
	if p == nil {
		return
	}
	if err := p.Close(); err != nil {
		log.Debug().Err(err).Str("module", "orch").Msg("close peer")
	}
}
