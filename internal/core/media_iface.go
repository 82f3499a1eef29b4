package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PeerSession is one negotiated point-to-point media transport.
// A fresh one is created for every negotiation attempt.
type PeerSession interface {
	// SignalingState reports the offer/answer state of the session.
	SignalingState() webrtc.SignalingState
	CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// LocalDescription returns the current local SDP, nil before one is set.
	LocalDescription() *webrtc.SessionDescription
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches local media to the session.
	AddLocalTrack(track webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))
	// Close should stop all underlying media resources.
	Close() error
}

// PeerFactory creates peer sessions. Implementations decide the ICE setup.
type PeerFactory interface {
	NewPeer() (PeerSession, error)
}

// RemoteTrack is the read side of an inbound media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// LevelReporter is implemented by tracks that negotiated the RFC 6464 audio
// level header extension. Zero means not negotiated.
type LevelReporter interface {
	AudioLevelID() uint8
}

// RelayPeer is the relay end of a peer session. Descriptions go out
// complete, after ICE gathering, so the relay never trickles candidates.
type RelayPeer interface {
	PeerSession
	ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	CreateOfferAndGather(ctx context.Context) (*webrtc.SessionDescription, error)
	// OnClosed fires when the transport fails or closes.
	OnClosed(func())
}

type RelayPeerFactory interface {
	NewRelayPeer() (RelayPeer, error)
}
