package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

// TransportHandlers receives asynchronous signals from a transport. Any field
// may be nil. Callbacks run on transport goroutines and must not block.
type TransportHandlers struct {
	OnICECandidate             func(domain.ICECandidate)
	OnICEConnectionStateChange func(domain.ICEConnectionState)
	OnConnectionStateChange    func(domain.ICEConnectionState)
	OnTrack                    func(RemoteTrack)
	OnDataChannelState         func(label string, state domain.DataChannelState)
	OnDataChannelMessage       func(label string, data []byte, isString bool)
}

// RemoteTrack describes an inbound track announced by the transport.
type RemoteTrack struct {
	ID       domain.TrackID
	StreamID domain.StreamID
	Kind     domain.TrackKind
}

// PeerTransport is the narrow ICE/SDP capability the connection manager
// drives. Implementations wrap a native peer connection.
type PeerTransport interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddICECandidate(candidate domain.ICECandidate) error

	AddTrack(track LocalTrack) error
	RemoveTrack(trackID domain.TrackID) error

	CreateDataChannel(label string) error
	SendData(label string, data []byte) error

	Stats() domain.ConnectionStats
	Close() error
}

// TransportFactory creates one transport per managed connection.
type TransportFactory interface {
	NewTransport(ctx context.Context, id domain.ConnectionID, cfg domain.ConnectionConfig, handlers TransportHandlers) (PeerTransport, error)
}
