package client

import (
	"sync"
	"time"
)

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// Clock schedules callbacks. Tests replace it to control time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

const (
	timerReconnect  = "reconnect"
	timerStreamPoll = "stream-poll"
)

// timers holds named, individually cancelable handles. Starting a name
// replaces its previous handle; a replaced or cancelled handle never fires.
type timers struct {
	clock Clock

	mu     sync.Mutex
	seq    uint64
	active map[string]timerHandle
}

type timerHandle struct {
	seq  uint64
	stop Stopper
}

func newTimers(clock Clock) *timers {
	return &timers{clock: clock, active: make(map[string]timerHandle)}
}

// after runs fn once after d.
func (t *timers) after(name string, d time.Duration, fn func()) {
	t.schedule(name, d, fn, false)
}

// every runs fn each d until cancelled.
func (t *timers) every(name string, d time.Duration, fn func()) {
	t.schedule(name, d, fn, true)
}

func (t *timers) schedule(name string, d time.Duration, fn func(), repeat bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(name)
	t.seq++
	seq := t.seq
	var tick func()
	tick = func() {
		if !t.current(name, seq) {
			return
		}
		fn()
		if !repeat {
			t.release(name, seq)
			return
		}
		t.mu.Lock()
		if h, ok := t.active[name]; ok && h.seq == seq {
			h.stop = t.clock.AfterFunc(d, tick)
			t.active[name] = h
		}
		t.mu.Unlock()
	}
	t.active[name] = timerHandle{seq: seq, stop: t.clock.AfterFunc(d, tick)}
}

func (t *timers) current(name string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.active[name]
	return ok && h.seq == seq
}

func (t *timers) release(name string, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.active[name]; ok && h.seq == seq {
		delete(t.active, name)
	}
}

func (t *timers) pending(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[name]
	return ok
}

func (t *timers) cancel(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(name)
}

func (t *timers) cancelLocked(name string) {
	if h, ok := t.active[name]; ok {
		h.stop.Stop()
		delete(t.active, name)
	}
}

func (t *timers) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name := range t.active {
		t.cancelLocked(name)
	}
}
