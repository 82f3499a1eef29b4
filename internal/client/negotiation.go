package client

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/media"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// handleMessage runs on the channel's read goroutine, one frame at a time.
func (c *Client) handleMessage(ch *channel, data []byte) {
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			c.logger.Debug().Err(err).Msg("ignoring message")
		} else {
			c.logger.Warn().Err(err).Msg("bad message")
		}
		return
	}

	c.mu.Lock()
	defer c.unlock()
	if ch != c.channel {
		return
	}
	c.logger.Debug().Str("type", string(msg.Type())).Msg("received")

	switch m := msg.(type) {
	case protocol.SenderReady:
		c.onSenderReadyLocked(m)
	case protocol.Answer:
		c.onAnswerLocked(m)
	case protocol.Offer:
		c.onOfferLocked(m)
	case protocol.AvailableStreams:
		c.streams.replace(m.Streams)
		list := c.streams.list()
		c.later(func() { c.events.streams.publish(list) })
	case protocol.StreamAvailable:
		c.streams.add(m.StreamID)
		c.later(func() { c.events.added.publish(m.StreamID) })
	case protocol.StreamEnded:
		c.streams.remove(m.StreamID)
		c.later(func() { c.events.removed.publish(m.StreamID) })
	case protocol.AudioData:
		c.latency = m.Latency(c.clock.Now())
		c.later(func() { c.events.audio.publish(m) })
	case protocol.Error:
		c.logger.Warn().Str("message", m.Message).Msg("relay error")
		c.setStatusLocked(domain.StatusError, m.Message)
	}
}

func (c *Client) onSenderReadyLocked(m protocol.SenderReady) {
	if c.mode != domain.ModeSend {
		c.logger.Debug().Str("mode", c.mode.String()).Msg("sender_ready outside send mode")
		return
	}
	peer := c.peer
	if peer == nil {
		c.logger.Warn().Err(ErrNoPeerSession).Msg("sender_ready")
		return
	}
	c.logger.Info().Str("connection_id", m.ConnectionID).Msg("relay ready, offering")

	offer, err := peer.CreateOffer(nil)
	if err != nil {
		c.negotiationFailedLocked("Failed to create offer", err)
		return
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		c.negotiationFailedLocked("Failed to create offer", err)
		return
	}
	c.sendLocked(protocol.Offer{Offer: localOr(peer, offer)})
}

func (c *Client) onAnswerLocked(m protocol.Answer) {
	peer := c.peer
	if peer == nil {
		c.logger.Warn().Err(ErrNoPeerSession).Msg("webrtc_answer")
		return
	}
	if err := peer.SetRemoteDescription(m.Answer); err != nil {
		c.negotiationFailedLocked("Failed to set remote answer", err)
		return
	}
	if c.mode == domain.ModeSend {
		c.setStatusLocked(domain.StatusConnected, "")
		c.negotiatedLocked()
	}
}

// onOfferLocked answers a relay offer. The relay is authoritative: an offer
// that collides with our own pending offer wins after a rollback.
func (c *Client) onOfferLocked(m protocol.Offer) {
	peer := c.peer
	if peer == nil {
		c.logger.Warn().Err(ErrNoPeerSession).Msg("webrtc_offer")
		return
	}
	switch st := peer.SignalingState(); st {
	case webrtc.SignalingStateStable:
	case webrtc.SignalingStateHaveLocalOffer:
		c.logger.Info().Msg("offer collision, rolling back local offer")
		if err := peer.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			c.negotiationFailedLocked("Failed to handle offer", err)
			return
		}
	default:
		c.logger.Warn().Str("signaling_state", st.String()).Msg("ignoring offer")
		return
	}

	if err := peer.SetRemoteDescription(m.Offer); err != nil {
		c.negotiationFailedLocked("Failed to handle offer", err)
		return
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		c.negotiationFailedLocked("Failed to handle offer", err)
		return
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		c.negotiationFailedLocked("Failed to handle offer", err)
		return
	}
	c.sendLocked(protocol.Answer{Answer: localOr(peer, answer)})
}

func localOr(peer core.PeerSession, fallback webrtc.SessionDescription) webrtc.SessionDescription {
	if d := peer.LocalDescription(); d != nil {
		return *d
	}
	return fallback
}

func (c *Client) negotiationFailedLocked(what string, err error) {
	c.logger.Error().Err(err).Msg(what)
	c.setStatusLocked(domain.StatusError, fmt.Sprintf("%s: %v", what, err))
}

func (c *Client) onLocalCandidate(peer core.PeerSession, ci webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.unlock()
	if c.peer != peer {
		return
	}
	c.sendLocked(protocol.ICECandidate{Candidate: ci})
}

func (c *Client) onICEState(peer core.PeerSession, s webrtc.ICEConnectionState) {
	c.mu.Lock()
	defer c.unlock()
	if c.peer != peer {
		return
	}
	if s == webrtc.ICEConnectionStateFailed {
		c.setStatusLocked(domain.StatusError, detailICEFailed)
	}
}

func (c *Client) onRemoteTrack(peer core.PeerSession, track core.RemoteTrack) {
	c.mu.Lock()
	defer c.unlock()
	if c.peer != peer {
		return
	}
	c.logger.Info().
		Str("track_id", track.ID()).
		Str("kind", track.Kind().String()).
		Msg("remote track")
	c.setStatusLocked(domain.StatusConnected, "")
	c.negotiatedLocked()

	sink, err := media.NewSink(track, c.analyser, c.playback)
	if err != nil {
		c.logger.Warn().Err(err).Msg("playback unavailable, draining only")
		// Without an address the sink cannot fail.
		sink, _ = media.NewSink(track, c.analyser, "")
	}
	go func() {
		if err := sink.Run(); err != nil {
			c.logger.Debug().Err(err).Msg("sink stopped")
		}
	}()
	c.later(func() { c.events.track.publish(track) })
}
