package orch

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/media"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// recSignal records every frame sent to it.
type recSignal struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *recSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, append([]byte(nil), f...))
	return nil
}

func (s *recSignal) Close() {}

func (s *recSignal) messages(t *testing.T) []protocol.ServerMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ServerMessage, 0, len(s.frames))
	for _, f := range s.frames {
		m, err := protocol.DecodeServer(f)
		if err != nil {
			t.Fatalf("decode %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (s *recSignal) last(t *testing.T) protocol.ServerMessage {
	t.Helper()
	msgs := s.messages(t)
	if len(msgs) == 0 {
		t.Fatalf("nothing sent")
	}
	return msgs[len(msgs)-1]
}

type fakePeer struct {
	mu       sync.Mutex
	closed   bool
	remote   *webrtc.SessionDescription
	tracks   []webrtc.TrackLocal
	cands    []webrtc.ICECandidateInit
	onTrack  func(core.RemoteTrack)
	onClosed func()

	// gate, when set, blocks gathering until closed.
	gate chan struct{}
}

func (p *fakePeer) SignalingState() webrtc.SignalingState { return webrtc.SignalingStateStable }
func (p *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}
func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}
func (p *fakePeer) SetLocalDescription(webrtc.SessionDescription) error { return nil }
func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &d
	return nil
}
func (p *fakePeer) LocalDescription() *webrtc.SessionDescription { return nil }
func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cands = append(p.cands, c)
	return nil
}
func (p *fakePeer) AddLocalTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil
}
func (p *fakePeer) OnICECandidate(func(webrtc.ICECandidateInit))                 {}
func (p *fakePeer) OnICEConnectionStateChange(func(webrtc.ICEConnectionState)) {}
func (p *fakePeer) OnTrack(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}
func (p *fakePeer) OnClosed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClosed = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) wait(ctx context.Context) error {
	if p.gate == nil {
		return nil
	}
	select {
	case <-p.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePeer) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	_ = p.SetRemoteDescription(offer)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	a, _ := p.CreateAnswer()
	return &a, nil
}

func (p *fakePeer) CreateOfferAndGather(ctx context.Context) (*webrtc.SessionDescription, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	o, _ := p.CreateOffer(nil)
	return &o, nil
}

func (p *fakePeer) deliver(track core.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(track)
}

type fakePeers struct {
	mu    sync.Mutex
	peers []*fakePeer
	next  func(*fakePeer)
}

func (f *fakePeers) NewRelayPeer() (core.RelayPeer, error) {
	p := &fakePeer{}
	f.mu.Lock()
	if f.next != nil {
		f.next(p)
		f.next = nil
	}
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakePeers) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

// chanTrack is an inbound audio track fed from a channel.
type chanTrack struct {
	pkts chan *rtp.Packet
}

func newChanTrack() *chanTrack { return &chanTrack{pkts: make(chan *rtp.Packet, 16)} }

func (c *chanTrack) ID() string                { return "audio" }
func (c *chanTrack) StreamID() string          { return "mic" }
func (c *chanTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (c *chanTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: media.OpusCapability, PayloadType: 111}
}

func (c *chanTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-c.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}
