package domain

import (
	"time"
)

type StreamID string
type TrackID string

type Ownership string

const (
	OwnershipLocal  Ownership = "local"
	OwnershipRemote Ownership = "remote"
)

type StreamKind string

const (
	StreamKindCameraMic   StreamKind = "camera_mic"
	StreamKindScreenShare StreamKind = "screen_share"
)

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

type Track struct {
	ID      TrackID   `json:"id"`
	Kind    TrackKind `json:"kind"`
	Enabled bool      `json:"enabled"`
}

// MediaStream is a read-only snapshot of a local or remote stream.
type MediaStream struct {
	ID        StreamID   `json:"id"`
	Ownership Ownership  `json:"ownership"`
	Kind      StreamKind `json:"kind"`
	Tracks    []Track    `json:"tracks"`
	CreatedAt time.Time  `json:"created_at"`
}

// MediaConstraints select what a capture should produce. CameraMic with
// neither flag set captures both; ScreenShare always captures video and
// audio only when Audio is set.
type MediaConstraints struct {
	Kind  StreamKind `json:"kind"`
	Audio bool       `json:"audio"`
	Video bool       `json:"video"`
}

// Normalize fills the implied track selection for the stream kind.
func (c MediaConstraints) Normalize() MediaConstraints {
	switch c.Kind {
	case StreamKindScreenShare:
		c.Video = true
	default:
		c.Kind = StreamKindCameraMic
		if !c.Audio && !c.Video {
			c.Audio, c.Video = true, true
		}
	}
	return c
}

// WantedKinds lists the track kinds in capture order (audio first).
func (c MediaConstraints) WantedKinds() []TrackKind {
	var kinds []TrackKind
	if c.Audio {
		kinds = append(kinds, TrackKindAudio)
	}
	if c.Video {
		kinds = append(kinds, TrackKindVideo)
	}
	return kinds
}
