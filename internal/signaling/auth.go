package signaling

import (
	"encoding/json"
	"log/slog"
)

// Authenticator signs the shared state we publish and verifies state
// published by others.
type Authenticator interface {
	Sign(state json.RawMessage) (json.RawMessage, error)

	// Verify returns the original state when signed was produced by peerID.
	Verify(signed json.RawMessage, peerID string) (json.RawMessage, bool)
}

// AuthFuncs adapts a pair of functions to Authenticator. A nil function
// passes state through unchanged.
type AuthFuncs struct {
	SignFunc   func(state json.RawMessage) (json.RawMessage, error)
	VerifyFunc func(signed json.RawMessage, peerID string) (json.RawMessage, bool)
}

func (a AuthFuncs) Sign(state json.RawMessage) (json.RawMessage, error) {
	if a.SignFunc == nil {
		return state, nil
	}
	return a.SignFunc(state)
}

func (a AuthFuncs) Verify(signed json.RawMessage, peerID string) (json.RawMessage, bool) {
	if a.VerifyFunc == nil {
		return signed, true
	}
	return a.VerifyFunc(signed, peerID)
}

func noState(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func signPayload(auth Authenticator, p *Payload) error {
	field := p.state()
	if noState(*field) {
		return nil
	}
	signed, err := auth.Sign(*field)
	if err != nil {
		return err
	}
	*field = signed
	return nil
}

// verifyPayload replaces signed state with the verified original. State that
// fails verification is dropped.
func verifyPayload(auth Authenticator, p *Payload, log *slog.Logger) {
	field := p.state()
	if noState(*field) {
		*field = nil
		return
	}
	state, ok := auth.Verify(*field, p.PeerID)
	if !ok {
		log.Warn("dropping unverifiable shared state", "peer", p.PeerID, "type", p.Type)
		*field = nil
		return
	}
	*field = state
}
