// Package media stands in for the browser media stack: it ingests local
// audio as RTP, drains inbound tracks and measures what flows through them.
package media

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Stats is a point-in-time view of an Analyser.
type Stats struct {
	Packets uint64
	Bytes   uint64
	// Bitrate in bits per second between the first and last packet.
	Bitrate float64
	// Level is the last reported audio level in dBov (0 loudest, -127 silence).
	Level    int
	HasLevel bool
	Voice    bool
	First    time.Time
	Last     time.Time
}

// Analyser counts RTP traffic and tracks the RFC 6464 audio level. It is
// safe for concurrent use.
type Analyser struct {
	now func() time.Time

	mu       sync.Mutex
	levelID  uint8
	packets  uint64
	bytes    uint64
	first    time.Time
	last     time.Time
	level    uint8
	hasLevel bool
	voice    bool
}

func NewAnalyser() *Analyser {
	return &Analyser{now: time.Now}
}

// SetLevelExtension sets the negotiated header extension id carrying the
// audio level. Zero disables level parsing.
func (a *Analyser) SetLevelExtension(id uint8) {
	a.mu.Lock()
	a.levelID = id
	a.mu.Unlock()
}

func (a *Analyser) Observe(pkt *rtp.Packet) {
	if pkt == nil {
		return
	}
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.packets == 0 {
		a.first = now
	}
	a.packets++
	a.bytes += uint64(len(pkt.Payload))
	a.last = now

	if a.levelID == 0 {
		return
	}
	raw := pkt.GetExtension(a.levelID)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	a.level = ext.Level
	a.voice = ext.Voice
	a.hasLevel = true
}

func (a *Analyser) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{
		Packets:  a.packets,
		Bytes:    a.bytes,
		HasLevel: a.hasLevel,
		Voice:    a.voice,
		First:    a.first,
		Last:     a.last,
	}
	if a.hasLevel {
		s.Level = -int(a.level)
	}
	if span := a.last.Sub(a.first).Seconds(); span > 0 {
		s.Bitrate = float64(a.bytes*8) / span
	}
	return s
}

// Reset clears counters. The level extension id is kept.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.packets, a.bytes = 0, 0
	a.first, a.last = time.Time{}, time.Time{}
	a.level, a.hasLevel, a.voice = 0, false, false
}
