package relay

import "github.com/Bluehatcoders/jam/internal/signaling"

// Message is a frame read from a client, tagged with its sender.
type Message struct {
	*signaling.Frame

	client *Client
}
