package media

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dkeye/voicestream/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

func levelPacket(t *testing.T, id uint8, level uint8, payload int) *rtp.Packet {
	t.Helper()
	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: 1, SSRC: 42},
		Payload: make([]byte, payload),
	}
	if id != 0 {
		raw, err := rtp.AudioLevelExtension{Level: level, Voice: true}.Marshal()
		if err != nil {
			t.Fatalf("marshal level: %v", err)
		}
		if err := pkt.Header.SetExtension(id, raw); err != nil {
			t.Fatalf("set extension: %v", err)
		}
	}
	return pkt
}

func TestAnalyserCountsAndLevel(t *testing.T) {
	a := NewAnalyser()
	base := time.Unix(100, 0)
	ticks := 0
	a.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks-1) * time.Second)
	}
	a.SetLevelExtension(1)

	a.Observe(levelPacket(t, 1, 30, 100))
	a.Observe(levelPacket(t, 1, 12, 150))

	s := a.Snapshot()
	if s.Packets != 2 || s.Bytes != 250 {
		t.Fatalf("packets=%d bytes=%d", s.Packets, s.Bytes)
	}
	if !s.HasLevel || s.Level != -12 || !s.Voice {
		t.Fatalf("level=%d has=%v voice=%v", s.Level, s.HasLevel, s.Voice)
	}
	if s.Bitrate != 2000 {
		t.Fatalf("bitrate=%v, want 2000", s.Bitrate)
	}

	a.Reset()
	if s := a.Snapshot(); s.Packets != 0 || s.HasLevel {
		t.Fatalf("reset left %+v", s)
	}
}

func TestAnalyserIgnoresLevelWithoutExtensionID(t *testing.T) {
	a := NewAnalyser()
	a.Observe(levelPacket(t, 1, 30, 10))
	if s := a.Snapshot(); s.HasLevel {
		t.Fatalf("expected no level, got %d", s.Level)
	}
}

func TestUDPSourceFeedsAnalyser(t *testing.T) {
	src := NewUDPSource("127.0.0.1:0")
	la, err := src.Acquire(context.Background(), domain.DefaultSessionConfig().Constraints())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	an := NewAnalyser()
	la.(Tappable).Tap(an)
	if la.Constraints().SampleRate != 16000 {
		t.Fatalf("constraints not kept: %+v", la.Constraints())
	}
	if _, ok := la.Track().(*webrtc.TrackLocalStaticRTP); !ok {
		t.Fatalf("unexpected track type %T", la.Track())
	}

	addr := la.(*udpAudio).LocalAddr().String()
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	raw, err := levelPacket(t, 0, 0, 40).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for an.Snapshot().Packets == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("analyser saw no packets")
		}
		if _, err := conn.Write(raw); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := la.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := la.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestUDPSourceBindFailure(t *testing.T) {
	_, err := NewUDPSource("256.0.0.1:1").Acquire(context.Background(), domain.AudioConstraints{})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

type fakeTrack struct {
	pkts []*rtp.Packet
}

func (f *fakeTrack) ID() string                       { return "t1" }
func (f *fakeTrack) StreamID() string                 { return "s1" }
func (f *fakeTrack) Kind() webrtc.RTPCodecType        { return webrtc.RTPCodecTypeAudio }
func (f *fakeTrack) Codec() webrtc.RTPCodecParameters { return webrtc.RTPCodecParameters{} }
func (f *fakeTrack) AudioLevelID() uint8              { return 3 }

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(f.pkts) == 0 {
		return nil, nil, io.EOF
	}
	p := f.pkts[0]
	f.pkts = f.pkts[1:]
	return p, nil, nil
}

func TestSinkForwardsToPlayback(t *testing.T) {
	player, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer player.Close()

	track := &fakeTrack{pkts: []*rtp.Packet{levelPacket(t, 3, 20, 60), levelPacket(t, 3, 25, 60)}}
	an := NewAnalyser()
	sink, err := NewSink(track, an, player.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := an.Snapshot()
	if s.Packets != 2 || s.Level != -25 {
		t.Fatalf("stats=%+v", s)
	}

	_ = player.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := player.ReadFrom(buf)
	if err != nil {
		t.Fatalf("player read: %v", err)
	}
	var got rtp.Packet
	if err := got.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("unmarshal forwarded: %v", err)
	}
	if got.SSRC != 42 {
		t.Fatalf("ssrc=%d", got.SSRC)
	}
}
