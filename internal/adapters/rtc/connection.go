package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("peer connection closed")

// AudioLevelURI is the RFC 6464 client-to-mixer audio level extension.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// NewAPI builds a pion API with the default codecs and interceptors plus
// the audio level header extension.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

// remoteTrack carries the negotiated audio level extension id with the track.
type remoteTrack struct {
	*webrtc.TrackRemote
	levelID uint8
}

func (t remoteTrack) AudioLevelID() uint8 { return t.levelID }

func levelExtensionID(r *webrtc.RTPReceiver) uint8 {
	if r == nil {
		return 0
	}
	for _, ext := range r.GetParameters().HeaderExtensions {
		if ext.URI == AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

// WebRTCConnection wraps a pion PeerConnection and implements core.PeerSession.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu       sync.RWMutex
	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(core.RemoteTrack)
	onState  func(webrtc.ICEConnectionState)
	onClosed func()
	closed   bool
}

// DefaultWebRTCConfig uses no relay servers, a single bundled transport
// and mandatory RTCP multiplexing. The relay is always reachable directly.
func DefaultWebRTCConfig(iceURLs ...string) webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICEServers:    []webrtc.ICEServer{},
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
	}
	if len(iceURLs) > 0 {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: iceURLs})
	}
	return cfg
}

// NewWebRTCConnection creates a peer connection. A nil api uses pion's
// defaults.
func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, label string) (*WebRTCConnection, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &WebRTCConnection{
		pc:     pc,
		logger: log.With().Str("module", "webrtc").Str("peer", label).Logger(),
	}
	c.bind()
	return c, nil
}

func (c *WebRTCConnection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.mu.RLock()
			fn := c.onClosed
			c.mu.RUnlock()
			if fn != nil {
				fn()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(remoteTrack{TrackRemote: track, levelID: levelExtensionID(receiver)})
		}
	})
}

func (c *WebRTCConnection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *WebRTCConnection) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(opts)
}

func (c *WebRTCConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *WebRTCConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *WebRTCConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddLocalTrack attaches a send-only audio transceiver: the local side
// never asks to receive on it.
func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) error {
	_, err := c.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	return err
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnClosed sets a callback for a failed or closed peer connection.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// ApplyOfferAndCreateAnswer installs a remote offer and returns the local
// answer once ICE gathering is complete or ctx expires.
func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	return c.setLocalAndGather(ctx, answer)
}

// CreateOfferAndGather creates a local offer and returns it once ICE
// gathering is complete or ctx expires.
func (c *WebRTCConnection) CreateOfferAndGather(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return c.setLocalAndGather(ctx, offer)
}

func (c *WebRTCConnection) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local %s: %w", desc.Type, err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		c.logger.Warn().Err(ctx.Err()).Msg("ICE gathering incomplete, sending partial description")
	}
	local := c.pc.LocalDescription()
	if local == nil {
		return nil, ErrClosed
	}
	return local, nil
}

func (c *WebRTCConnection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

// Factory creates WebRTCConnections with a fixed configuration.
type Factory struct {
	API    *webrtc.API
	Config webrtc.Configuration
	Label  string
}

func NewFactory(cfg webrtc.Configuration, label string) (*Factory, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	return &Factory{API: api, Config: cfg, Label: label}, nil
}

func (f *Factory) NewPeer() (core.PeerSession, error) {
	return f.NewConnection()
}

func (f *Factory) NewRelayPeer() (core.RelayPeer, error) {
	return f.NewConnection()
}

// NewConnection is NewPeer returning the concrete type.
func (f *Factory) NewConnection() (*WebRTCConnection, error) {
	return NewWebRTCConnection(f.API, f.Config, f.Label)
}
