package domain

import "time"

type EventType string

const (
	EventCandidateGenerated     EventType = "candidate_generated"
	EventLocalDescription       EventType = "local_description"
	EventConnectionStateChanged EventType = "connection_state_changed"
	EventRemoteStreamAvailable  EventType = "remote_stream_available"
	EventDataChannelMessage     EventType = "data_channel_message"
	EventDataChannelState       EventType = "data_channel_state"
	EventStreamLifecycle        EventType = "stream_lifecycle"
)

// Event is the single envelope carried by the event bus. Exactly one of the
// payload pointers is set, matching Type.
type Event struct {
	ID           string       `json:"id"`
	Type         EventType    `json:"type"`
	ConnectionID ConnectionID `json:"connection_id,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`

	Candidate   *ICECandidate       `json:"candidate,omitempty"`
	Description *SessionDescription `json:"description,omitempty"`
	State       *StateChange        `json:"state,omitempty"`
	Stream      *StreamEvent        `json:"stream,omitempty"`
	DataChannel *DataChannelEvent   `json:"data_channel,omitempty"`
}

type StateChange struct {
	From   ConnectionState `json:"from"`
	To     ConnectionState `json:"to"`
	Reason string          `json:"reason,omitempty"`
}

type StreamAction string

const (
	StreamAcquired   StreamAction = "acquired"
	StreamReleased   StreamAction = "released"
	StreamTrackAdded StreamAction = "track_added"
	StreamMuted      StreamAction = "muted"
	StreamUnmuted    StreamAction = "unmuted"
)

type StreamEvent struct {
	StreamID  StreamID     `json:"stream_id"`
	Action    StreamAction `json:"action"`
	Ownership Ownership    `json:"ownership"`
	Kind      StreamKind   `json:"kind,omitempty"`
	TrackKind TrackKind    `json:"track_kind,omitempty"`
}

type DataChannelEvent struct {
	Label    string           `json:"label"`
	State    DataChannelState `json:"state,omitempty"`
	Data     []byte           `json:"data,omitempty"`
	IsString bool             `json:"is_string,omitempty"`
}
