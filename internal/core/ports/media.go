package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

// LocalTrack is an outbound track produced by a capturer.
type LocalTrack interface {
	ID() domain.TrackID
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// CapturedStream is the set of tracks returned by a single capture.
type CapturedStream interface {
	Tracks() []LocalTrack
	Stop()
}

// MediaCapturer abstracts the device (or feed) that produces local media.
type MediaCapturer interface {
	Capture(ctx context.Context, streamID domain.StreamID, constraints domain.MediaConstraints) (CapturedStream, error)
}
