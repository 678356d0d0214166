package swarm

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRoom = errors.New("room not configured")
	ErrMissingURL  = errors.New("signaling url not configured")
	ErrConnected   = errors.New("swarm is connected")
	ErrNoChannel   = errors.New("no signaling channel")
	ErrNilStream   = errors.New("nil stream")
)

// Kind classifies swarm failures. None of them are fatal.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindTransport
	KindPeerTeardown
	KindStreamAttach
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindPeerTeardown:
		return "peer teardown"
	case KindStreamAttach:
		return "stream attach"
	default:
		return "unknown"
	}
}

type Error struct {
	Op     string
	PeerID string
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	if e.PeerID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.PeerID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func NewPeerError(op, peerID string, kind Kind, err error) *Error {
	return &Error{Op: op, PeerID: peerID, Kind: kind, Err: err}
}

// IsKind reports whether err is a swarm *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
