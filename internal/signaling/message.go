package signaling

import "encoding/json"

// Frame represents all WebSocket messages between a peer and the relay.
type Frame struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	RoomID     string          `json:"room_id,omitempty"`
	PeerID     string          `json:"peer_id,omitempty"`
	ClientType string          `json:"client_type,omitempty"`
	Topic      string          `json:"topic,omitempty"`
	Anonymous  bool            `json:"anonymous,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Frame type constants.
const (
	FrameJoinRoom   = "join_room"
	FrameCreateRoom = "create_room"
	FrameSubscribe  = "subscribe"
	FramePublish    = "publish"

	FrameJoinSuccess = "join_success"
	FrameRoomCreated = "room_created"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"
)

// Reserved swarm topics.
const (
	TopicAnnounce  = "connect-me"
	TopicAll       = "all"
	TopicAnonymous = "anonymous"
)

// SignalTopic is the per-recipient topic that carries connection signals.
func SignalTopic(peerID string) string {
	return "signal-" + peerID
}

// Envelope types carried on TopicAll.
const (
	TypeSharedState = "shared-state"
	TypeSharedEvent = "shared-event"
)

// Payload is the body of every non-anonymous swarm message.
//
// Announcements use PeerID, ConnectionID and SharedState, which is sent as
// null when there is none. Signals use PeerID, Data, ConnectionID and
// ExpectedConnectionID. Messages on TopicAll use Type, PeerID and Data.
type Payload struct {
	Type                 string          `json:"type,omitempty"`
	PeerID               string          `json:"peerId"`
	ConnectionID         string          `json:"connectionId,omitempty"`
	ExpectedConnectionID string          `json:"expectedConnectionId,omitempty"`
	Data                 json.RawMessage `json:"data,omitempty"`
	SharedState          json.RawMessage `json:"sharedState"`
}

// state returns the field holding a peer's shared state, if any.
func (p *Payload) state() *json.RawMessage {
	if p.Type == TypeSharedState {
		return &p.Data
	}
	return &p.SharedState
}
