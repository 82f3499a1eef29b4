package client

import (
	"testing"
	"time"
)

func TestTimersReplaceByName(t *testing.T) {
	clk := newFakeClock()
	tm := newTimers(clk)
	fired := ""
	tm.after("x", time.Second, func() { fired += "a" })
	tm.after("x", 2*time.Second, func() { fired += "b" })

	for clk.fireNext() {
	}
	if fired != "b" {
		t.Fatalf("fired=%q, want only the replacement", fired)
	}
	if tm.pending("x") {
		t.Fatalf("single-shot timer still pending")
	}
}

func TestTimersEveryAndCancelAll(t *testing.T) {
	clk := newFakeClock()
	tm := newTimers(clk)
	n := 0
	tm.every("poll", time.Second, func() { n++ })

	clk.fireNext()
	clk.fireNext()
	if n != 2 {
		t.Fatalf("ticks=%d", n)
	}
	tm.after("once", time.Minute, func() { t.Fatalf("cancelled timer fired") })
	tm.cancelAll()
	if clk.fireNext() {
		t.Fatalf("timer fired after cancelAll")
	}
}

func TestTimersStaleCallbackIgnored(t *testing.T) {
	clk := newFakeClock()
	tm := newTimers(clk)
	n := 0
	tm.after("x", time.Second, func() { n++ })
	stale := clk.pending()[0]
	tm.cancel("x")
	stale.f()
	if n != 0 {
		t.Fatalf("cancelled callback ran")
	}
}
