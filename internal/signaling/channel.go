package signaling

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Channel is the pub/sub surface the swarm coordinator talks to.
//
// Broadcast returns a channel that receives exactly one value: nil once the
// relay acknowledged the message, or the reason it never will.
type Channel interface {
	Broadcast(topic string, p Payload) <-chan error
	Subscribe(topic string, handler func(Payload))
	SubscribeAnonymous(topic string, handler func(json.RawMessage))
	Close() error
}

// Config opens a Channel for one room.
type Config struct {
	URL    string
	Room   string
	PeerID string

	// Auth signs outgoing shared state and verifies incoming state. Optional.
	Auth Authenticator

	// AckTimeout bounds how long a broadcast waits for the relay.
	AckTimeout time.Duration

	Logger *slog.Logger
}

const DefaultAckTimeout = 10 * time.Second
