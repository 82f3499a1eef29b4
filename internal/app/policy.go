package app

import "github.com/dkeye/voicestream/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConn
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(sess core.ConnSession) BackpressureAction
}

// SimplePolicy drops frames for receivers and kicks senders, whose
// negotiation cannot survive a lost envelope.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(sess core.ConnSession) BackpressureAction {
	if sess.Role() == core.RoleSender {
		return KickConn
	}
	return DropFrame
}
