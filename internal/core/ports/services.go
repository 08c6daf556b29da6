package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

type MediaService interface {
	Acquire(ctx context.Context, streamID domain.StreamID, constraints domain.MediaConstraints) (domain.MediaStream, error)
	SetTrackEnabled(streamID domain.StreamID, kind domain.TrackKind, enabled bool)
	Release(streamID domain.StreamID)
	Stream(streamID domain.StreamID) (domain.MediaStream, bool)
	Streams() []domain.MediaStream
}

type ConnectionService interface {
	CreateConnection(ctx context.Context, id domain.ConnectionID, role domain.Role) (domain.PeerConnection, error)
	CreateOffer(ctx context.Context, id domain.ConnectionID) (domain.SessionDescription, error)
	HandleOffer(ctx context.Context, id domain.ConnectionID, offer domain.SessionDescription) (domain.SessionDescription, error)
	HandleAnswer(ctx context.Context, id domain.ConnectionID, answer domain.SessionDescription) error
	AddICECandidate(id domain.ConnectionID, candidate domain.ICECandidate)
	Close(id domain.ConnectionID)
	GetStats(id domain.ConnectionID) (domain.ConnectionStats, bool)

	Connection(id domain.ConnectionID) (domain.PeerConnection, bool)
	Connections() []domain.PeerConnection
	RemoteStream(id domain.ConnectionID) (domain.MediaStream, bool)
	AttachStream(ctx context.Context, id domain.ConnectionID, streamID domain.StreamID) error
	DetachStream(ctx context.Context, id domain.ConnectionID, streamID domain.StreamID) error
	CreateDataChannel(ctx context.Context, id domain.ConnectionID, label string) error
	SendData(id domain.ConnectionID, label string, data []byte) error
}

// EventFilter narrows a subscription. Empty fields match everything.
type EventFilter struct {
	Types        []domain.EventType
	ConnectionID domain.ConnectionID
}

type EventBus interface {
	Publish(event domain.Event)
	Subscribe(name string, filter EventFilter, handler func(domain.Event)) (unsubscribe func())
}
