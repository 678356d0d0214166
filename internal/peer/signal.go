package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Signal types exchanged through the swarm's signal topic.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalStream    = "stream"
)

// Signal is the negotiation message carried in a swarm signal's data.
type Signal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`

	// StreamID and Name announce the name of a stream before its tracks
	// arrive.
	StreamID string `json:"streamId,omitempty"`
	Name     string `json:"name,omitempty"`
}

func DecodeSignal(data json.RawMessage) (*Signal, error) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, NewError("decode signal", err)
	}
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return nil, WrapError("decode signal", ErrUnexpectedSignal, s.Type+" without sdp")
		}
	case SignalCandidate:
		if s.Candidate == nil {
			return nil, WrapError("decode signal", ErrUnexpectedSignal, "candidate missing")
		}
	case SignalStream:
	default:
		return nil, WrapError("decode signal", ErrUnexpectedSignal, fmt.Sprintf("type %q", s.Type))
	}
	return &s, nil
}

func (s *Signal) encode() json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func (s *Signal) description() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(s.Type), SDP: s.SDP}
}
