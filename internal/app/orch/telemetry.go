package orch

import (
	"context"
	"time"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/rs/zerolog/log"
)

// TelemetryOnce sends every receiver the traffic figures of its stream.
func (o *Orchestrator) TelemetryOnce() {
	ts := float64(o.now().UnixMicro()) / 1e6
	for _, sess := range o.Registry.All() {
		if sess.Role() != core.RoleReceiver {
			continue
		}
		stream := sess.StreamID()
		stats, ok := o.Relays.Stats(stream)
		if !ok {
			continue
		}
		fields := map[string]any{
			"stream_id": string(stream),
			"packets":   stats.Packets,
			"bytes":     stats.Bytes,
			"bitrate":   stats.Bitrate,
			"receivers": o.Relays.Subscribers(stream),
		}
		if stats.HasLevel {
			fields["level"] = stats.Level
		}
		o.Send(sess, protocol.AudioData{Timestamp: ts, Fields: fields})
	}
}

func (o *Orchestrator) RunTelemetry(ctx context.Context, period time.Duration) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.TelemetryOnce()
		}
	}
}

// SweepOnce removes streams whose sender is gone, and streams nobody has
// listened to for longer than ttl. An idle sender is told why its peer
// was closed. ttl <= 0 disables the idle check.
func (o *Orchestrator) SweepOnce(ttl time.Duration) []domain.StreamID {
	var removed []domain.StreamID
	for _, info := range o.Streams.List() {
		if _, ok := o.Registry.GetSession(info.Source); !ok && o.RemoveStream(info.ID) {
			removed = append(removed, info.ID)
		}
	}
	if ttl <= 0 {
		return removed
	}
	for _, id := range o.Streams.Stale(ttl) {
		info, ok := o.Streams.Get(id)
		if !ok {
			continue
		}
		sess, ok := o.Registry.GetSession(info.Source)
		if ok && sess.Role() == core.RoleSender && sess.StreamID() == id {
			o.StopStream(sess)
			o.Send(sess, protocol.Error{Message: "Stream closed after inactivity"})
		} else {
			o.RemoveStream(id)
		}
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		log.Info().Str("module", "orch").Int("removed", len(removed)).Msg("stale sweep")
	}
	return removed
}

func (o *Orchestrator) RunStaleSweep(ctx context.Context, every, ttl time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SweepOnce(ttl)
		}
	}
}
