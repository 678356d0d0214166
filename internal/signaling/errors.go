package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrClosed         = errors.New("signaling channel closed")
	ErrAckTimeout     = errors.New("signaling ack timeout")
	ErrQueueFull      = errors.New("signaling send queue full")
	ErrConnectionLost = errors.New("signaling connection lost")
)

// RemoteError is an error frame returned by the relay.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("relay %s: %s", e.Op, e.Message)
	}
	return "relay: " + e.Message
}
