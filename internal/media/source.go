package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrSourceUnavailable = errors.New("audio source unavailable")

const maxDatagram = 1500

// OpusCapability is the codec every local track is published with.
var OpusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// Tappable local audio feeds an Analyser with what it publishes.
type Tappable interface {
	Tap(*Analyser)
}

// UDPSource acquires audio by binding a UDP socket that receives Opus RTP,
// e.g. from `ffmpeg -f pulse -i default -c:a libopus -f rtp rtp://127.0.0.1:5004`.
type UDPSource struct {
	Addr string
}

func NewUDPSource(addr string) *UDPSource {
	return &UDPSource{Addr: addr}
}

func (s *UDPSource) Acquire(ctx context.Context, c domain.AudioConstraints) (core.LocalAudio, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", ErrSourceUnavailable, s.Addr, err)
	}
	track, err := webrtc.NewTrackLocalStaticRTP(OpusCapability, "audio", "voicestream")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	logger := log.With().Str("module", "media.source").Str("addr", conn.LocalAddr().String()).Logger()
	logger.Info().
		Bool("echo_cancellation", c.EchoCancellation).
		Bool("noise_suppression", c.NoiseSuppression).
		Bool("auto_gain_control", c.AutoGainControl).
		Int("sample_rate", c.SampleRate).
		Int("channels", c.ChannelCount).
		Msg("audio source acquired")

	a := &udpAudio{
		conn:   conn,
		track:  track,
		cons:   c,
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.pump()
	return a, nil
}

type udpAudio struct {
	conn   net.PacketConn
	track  *webrtc.TrackLocalStaticRTP
	cons   domain.AudioConstraints
	logger zerolog.Logger

	mu       sync.RWMutex
	analyser *Analyser

	stopOnce sync.Once
	done     chan struct{}
}

func (a *udpAudio) Track() webrtc.TrackLocal             { return a.track }
func (a *udpAudio) Constraints() domain.AudioConstraints { return a.cons }

// LocalAddr is the bound ingest address.
func (a *udpAudio) LocalAddr() net.Addr { return a.conn.LocalAddr() }

func (a *udpAudio) Tap(an *Analyser) {
	a.mu.Lock()
	a.analyser = an
	a.mu.Unlock()
}

func (a *udpAudio) pump() {
	defer close(a.done)
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := a.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.logger.Error().Err(err).Msg("ingest read error")
			}
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			a.logger.Debug().Err(err).Int("len", n).Msg("dropping non-RTP datagram")
			continue
		}
		a.mu.RLock()
		an := a.analyser
		a.mu.RUnlock()
		if an != nil {
			an.Observe(pkt)
		}
		if err := a.track.WriteRTP(pkt); err != nil {
			a.logger.Debug().Err(err).Msg("track write error")
		}
	}
}

// Stop closes the socket and waits for the pump to exit.
func (a *udpAudio) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		err = a.conn.Close()
		<-a.done
		a.logger.Info().Msg("audio source released")
	})
	return err
}
