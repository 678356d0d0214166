package peer

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("peer connection closed")
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrUnsupportedType  = errors.New("unsupported stream type")
	ErrConnectionFailed = errors.New("connection failed")
)

type PeerError struct {
	Op      string
	PeerID  string
	Err     error
	Details string
}

func (e *PeerError) Error() string {
	if e.PeerID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.PeerID, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *PeerError {
	return &PeerError{Op: op, Err: err}
}

func NewPeerError(op, peerID string, err error) *PeerError {
	return &PeerError{Op: op, PeerID: peerID, Err: err}
}

func WrapError(op string, err error, details string) *PeerError {
	return &PeerError{Op: op, Err: err, Details: details}
}
