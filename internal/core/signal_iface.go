package core

import "errors"

// Frame is one encoded signaling envelope.
type Frame []byte

// SignalConnection abstracts the server-side messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ErrBackpressure means the connection's send buffer is full.
var ErrBackpressure = errors.New("backpressure")
