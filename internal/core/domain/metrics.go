package domain

import "time"

// ConnectionStats is a point-in-time view of a connection's transport health.
type ConnectionStats struct {
	ConnectionID    ConnectionID  `json:"connection_id"`
	Timestamp       time.Time     `json:"timestamp"`
	PacketLoss      float64       `json:"packet_loss"` // 0-1
	RoundTripTime   time.Duration `json:"round_trip_time"`
	InboundBitrate  int           `json:"inbound_bitrate"`  // bps
	OutboundBitrate int           `json:"outbound_bitrate"` // bps
	BytesSent       uint64        `json:"bytes_sent"`
	BytesReceived   uint64        `json:"bytes_received"`
	NACKs           int           `json:"nacks"` // packets the remote asked us to resend
}
