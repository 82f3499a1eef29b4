package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/media"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Relay copies RTP from one sender track to every subscriber track.
type Relay struct {
	Src   core.RemoteTrack
	Stats *media.Analyser

	mu        sync.RWMutex
	outTracks map[core.ConnID]*OutTrack

	onForward func(bytes int)
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRelay(src core.RemoteTrack, cancel context.CancelFunc) *Relay {
	stats := media.NewAnalyser()
	if lr, ok := src.(core.LevelReporter); ok {
		stats.SetLevelExtension(lr.AudioLevelID())
	}
	return &Relay{
		Src:       src,
		Stats:     stats,
		outTracks: make(map[core.ConnID]*OutTrack),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger, onEnd func()) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			if ctx.Err() == nil && onEnd != nil {
				onEnd()
			}
			return
		}
		r.Stats.Observe(pkt)
		if r.onForward != nil {
			r.onForward(len(pkt.Payload))
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[core.ConnID]*OutTrack, len(r.outTracks))
	r.mu.RLock()
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]core.ConnID, 0, len(snapshot))
	for dst, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst_cid", string(dst)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dst)
				continue
			}
			ot.sent.Add(1)
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cid := range dirty {
		// The subscriber may have resubscribed since the snapshot.
		if ot, ok := r.outTracks[cid]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, cid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(dst core.ConnID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[dst] = ot
}

// Subscribers counts out tracks not marked for deletion.
func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ot := range r.outTracks {
		if ot.GetState() != TrackStateDelete {
			n++
		}
	}
	return n
}
