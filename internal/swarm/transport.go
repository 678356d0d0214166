package swarm

import "encoding/json"

// PeerTransport opens connections to remote peers.
type PeerTransport interface {
	// Open returns the connection for spec, creating it if needed.
	Open(spec PeerSpec) (PeerConnection, error)
}

// PeerConnection is one bidirectional transport to a remote peer.
//
// Methods are called with the coordinator's lock held and must not call
// back into PeerHost synchronously.
type PeerConnection interface {
	PeerID() string

	// ConnectionID is the remote peer's connection id this connection was
	// opened for.
	ConnectionID() string

	AttachStream(stream Stream, name string) error
	HandleSignal(data json.RawMessage) error

	// Destroy tears the connection down. Calling it again is a no-op.
	Destroy() error
}

// PeerSpec describes a connection to open.
type PeerSpec struct {
	PeerID       string
	ConnectionID string

	LocalPeerID       string
	LocalConnectionID string

	// Initiator connections make the first offer.
	Initiator bool

	// Config is Options.ConnectionConfig, passed through untouched.
	Config any

	Host PeerHost
}

// PeerHost receives callbacks from a single connection. Callbacks from a
// connection the swarm has since replaced or destroyed are ignored.
type PeerHost interface {
	// SendSignal relays negotiation data to the remote peer.
	SendSignal(data json.RawMessage)

	// Connected reports that the transport is up.
	Connected()

	// Failed reports that the transport is gone for good.
	Failed(err error)

	AddRemoteStream(name string, stream Stream)
}
