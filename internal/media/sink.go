package media

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink drains an inbound track. Packets are counted by the analyser and,
// when a playback address is set, forwarded as raw RTP to an external player.
type Sink struct {
	track    core.RemoteTrack
	analyser *Analyser
	out      net.Conn
	logger   zerolog.Logger
}

func NewSink(track core.RemoteTrack, analyser *Analyser, playbackAddr string) (*Sink, error) {
	s := &Sink{
		track:    track,
		analyser: analyser,
		logger: log.With().
			Str("module", "media.sink").
			Str("track_id", track.ID()).
			Logger(),
	}
	if lr, ok := track.(core.LevelReporter); ok && analyser != nil {
		analyser.SetLevelExtension(lr.AudioLevelID())
	}
	if playbackAddr != "" {
		out, err := net.Dial("udp", playbackAddr)
		if err != nil {
			return nil, fmt.Errorf("dial playback %s: %w", playbackAddr, err)
		}
		s.out = out
	}
	return s, nil
}

// Run blocks until the track ends.
func (s *Sink) Run() error {
	defer s.close()
	for {
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info().Msg("track ended")
				return nil
			}
			return err
		}
		if s.analyser != nil {
			s.analyser.Observe(pkt)
		}
		if s.out == nil {
			continue
		}
		raw, err := pkt.Marshal()
		if err != nil {
			continue
		}
		if _, err := s.out.Write(raw); err != nil {
			s.logger.Debug().Err(err).Msg("playback write error")
		}
	}
}

func (s *Sink) close() {
	if s.out != nil {
		_ = s.out.Close()
	}
}
