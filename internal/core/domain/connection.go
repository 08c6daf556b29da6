package domain

import "time"

type ConnectionID string

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// PeerConnection is a read-only snapshot of a managed connection.
type PeerConnection struct {
	ID                   ConnectionID                `json:"id"`
	Role                 Role                        `json:"role"`
	State                ConnectionState             `json:"state"`
	LocalStreamIDs       []StreamID                  `json:"local_stream_ids"`
	RemoteStreamID       StreamID                    `json:"remote_stream_id,omitempty"`
	PendingCandidates    []ICECandidate              `json:"pending_candidates,omitempty"`
	RemoteDescriptionSet bool                        `json:"remote_description_set"`
	CandidatesApplied    int                         `json:"candidates_applied"`
	CandidatesFailed     int                         `json:"candidates_failed"`
	DataChannels         map[string]DataChannelState `json:"data_channels,omitempty"`
	CreatedAt            time.Time                   `json:"created_at"`
	ConnectedAt          time.Time                   `json:"connected_at,omitempty"`
}

type DataChannelState string

const (
	DataChannelConnecting DataChannelState = "connecting"
	DataChannelOpen       DataChannelState = "open"
	DataChannelClosed     DataChannelState = "closed"
)

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is passed through opaquely; the JSON form matches the
// browser RTCSessionDescriptionInit.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ConnectionConfig is fixed for the lifetime of a manager.
type ConnectionConfig struct {
	ICEServers []ICEServer
}

// Clone returns a deep copy so callers cannot mutate a manager's config.
func (c ConnectionConfig) Clone() ConnectionConfig {
	servers := make([]ICEServer, len(c.ICEServers))
	for i, s := range c.ICEServers {
		servers[i] = ICEServer{
			URLs:       append([]string(nil), s.URLs...),
			Username:   s.Username,
			Credential: s.Credential,
		}
	}
	return ConnectionConfig{ICEServers: servers}
}
