package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var errConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory websocket. push feeds frames to the client,
// drop simulates the relay going away.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes []json.RawMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 32), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-f.closed:
		return 0, nil, errConnClosed
	default:
	}
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	if mt == websocket.TextMessage {
		f.mu.Lock()
		f.writes = append(f.writes, append(json.RawMessage(nil), data...))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error          { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error         { return nil }
func (f *fakeConn) SetPongHandler(func(string) error)        {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) drop() { _ = f.Close() }

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) push(t *testing.T, m protocol.ServerMessage) {
	t.Helper()
	data, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("encode %s: %v", m.Type(), err)
	}
	f.in <- data
}

// sent returns the decoded frames of the given type written so far.
func (f *fakeConn) sent(typ protocol.MessageType) []map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]json.RawMessage
	for _, w := range f.writes {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(w, &m); err != nil {
			continue
		}
		var got string
		_ = json.Unmarshal(m["type"], &got)
		if protocol.MessageType(got) == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		t.Fatalf("nothing dialed")
	}
	return d.conns[len(d.conns)-1]
}

// fakePeer follows the offer/answer state machine without any media.
type fakePeer struct {
	mu         sync.Mutex
	state      webrtc.SignalingState
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	tracks     int
	rollbacks  int
	closed     bool
	failRemote error

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(webrtc.ICEConnectionState)
}

func newFakePeer() *fakePeer {
	return &fakePeer{state: webrtc.SignalingStateStable}
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) setState(s webrtc.SignalingState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		p.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		if p.state != webrtc.SignalingStateHaveRemoteOffer {
			return errors.New("answer without offer")
		}
		p.state = webrtc.SignalingStateStable
	case webrtc.SDPTypeRollback:
		p.rollbacks++
		p.state = webrtc.SignalingStateStable
		p.local = nil
		return nil
	}
	p.local = &d
	return nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRemote != nil {
		return p.failRemote
	}
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if p.state != webrtc.SignalingStateStable {
			return errors.New("offer in wrong state")
		}
		p.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if p.state != webrtc.SignalingStateHaveLocalOffer {
			return errors.New("answer in wrong state")
		}
		p.state = webrtc.SignalingStateStable
	}
	p.remote = &d
	return nil
}

func (p *fakePeer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (p *fakePeer) AddLocalTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	p.tracks++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) emitTrack(tr core.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(tr)
}

func (p *fakePeer) emitICEState(s webrtc.ICEConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) emitCandidate(ci webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	fn(ci)
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer() (core.PeerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := newFakePeer()
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) last(t *testing.T) *fakePeer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		t.Fatalf("no peer created")
	}
	return f.peers[len(f.peers)-1]
}

// fakeTrack ends immediately.
type fakeTrack struct{}

func (fakeTrack) ID() string                       { return "audio" }
func (fakeTrack) StreamID() string                 { return "stream_1" }
func (fakeTrack) Kind() webrtc.RTPCodecType        { return webrtc.RTPCodecTypeAudio }
func (fakeTrack) Codec() webrtc.RTPCodecParameters { return webrtc.RTPCodecParameters{} }
func (fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

// packetTrack yields n packets, then ends.
type packetTrack struct {
	fakeTrack
	mu sync.Mutex
	n  int
}

func (p *packetTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == 0 {
		return nil, nil, io.EOF
	}
	p.n--
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: uint16(p.n)}, Payload: []byte{1, 2, 3}}, nil, nil
}

type fakeAudio struct {
	track *webrtc.TrackLocalStaticRTP
	cons  domain.AudioConstraints
	stops atomic.Int32
}

func (a *fakeAudio) Track() webrtc.TrackLocal             { return a.track }
func (a *fakeAudio) Constraints() domain.AudioConstraints { return a.cons }
func (a *fakeAudio) Stop() error {
	a.stops.Add(1)
	return nil
}

// fakeSource hands out fakeAudio. With gate set, Acquire blocks until the
// gate is closed and signals entry on acquiring.
type fakeSource struct {
	gate      chan struct{}
	acquiring chan struct{}

	mu     sync.Mutex
	audios []*fakeAudio
	err    error
}

func (s *fakeSource) Acquire(_ context.Context, c domain.AudioConstraints) (core.LocalAudio, error) {
	if s.acquiring != nil {
		close(s.acquiring)
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "test",
	)
	if err != nil {
		return nil, err
	}
	a := &fakeAudio{track: track, cons: c}
	s.audios = append(s.audios, a)
	return a, nil
}

func (s *fakeSource) last(t *testing.T) *fakeAudio {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.audios) == 0 {
		t.Fatalf("no audio acquired")
	}
	return s.audios[len(s.audios)-1]
}

// fakeClock records every scheduled delay and fires timers on demand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the oldest pending timer on the calling goroutine.
func (c *fakeClock) fireNext() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
		c.now = c.now.Add(next.d)
	}
	c.mu.Unlock()
	if next == nil {
		return false
	}
	next.f()
	return true
}

// delays lists the durations of every timer scheduled so far.
func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
