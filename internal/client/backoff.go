package client

import (
	"math"
	"time"
)

// Backoff is an exponential retry schedule.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Factor: 1.5, Max: 30 * time.Second}
}

// Delay returns min(Base*Factor^attempt, Max), truncated to milliseconds.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d).Truncate(time.Millisecond)
}

// ResetPolicy decides when the retry counter returns to zero.
type ResetPolicy int

const (
	// ResetOnChannelOpen resets as soon as a signaling channel opens.
	ResetOnChannelOpen ResetPolicy = iota
	// ResetOnNegotiated resets only once media is flowing again, so a relay
	// that accepts connections and then drops them still exhausts retries.
	ResetOnNegotiated
)

func (p ResetPolicy) String() string {
	if p == ResetOnNegotiated {
		return "negotiated"
	}
	return "channel-open"
}

// ParseResetPolicy accepts "channel-open" or "negotiated".
func ParseResetPolicy(s string) (ResetPolicy, bool) {
	switch s {
	case "", "channel-open":
		return ResetOnChannelOpen, true
	case "negotiated":
		return ResetOnNegotiated, true
	}
	return ResetOnChannelOpen, false
}
