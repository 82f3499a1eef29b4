package domain

import (
	"errors"
	"strings"
)

const MaxStreamIDLen = 128

var (
	ErrStreamIDEmpty   = errors.New("stream id empty")
	ErrStreamIDTooLong = errors.New("stream id too long")
)

// StreamID names an upstream source published on the relay.
type StreamID string

// ParseStreamID trims and validates an id coming from user input.
func ParseStreamID(raw string) (StreamID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrStreamIDEmpty
	}
	if len(raw) > MaxStreamIDLen {
		return "", ErrStreamIDTooLong
	}
	return StreamID(raw), nil
}

// Short is the 8-char prefix shown in listings.
func (id StreamID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}
