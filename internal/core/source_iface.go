package core

import (
	"context"

	"github.com/dkeye/voicestream/internal/domain"
	"github.com/pion/webrtc/v4"
)

// LocalAudio is an acquired capture device. Stop releases it; after Stop
// the track produces no more samples.
type LocalAudio interface {
	Track() webrtc.TrackLocal
	Constraints() domain.AudioConstraints
	Stop() error
}

// MediaSource acquires local audio.
type MediaSource interface {
	Acquire(ctx context.Context, c domain.AudioConstraints) (LocalAudio, error)
}
