package swarm

import "encoding/json"

// PeerStateStore holds the last state each peer announced. Writes replace,
// they never merge. It is guarded by the coordinator's lock.
type PeerStateStore struct {
	states map[string]json.RawMessage
	notify func(peerID string, state json.RawMessage)
}

// NewPeerStateStore calls notify after every Apply. notify may be nil.
func NewPeerStateStore(notify func(peerID string, state json.RawMessage)) *PeerStateStore {
	return &PeerStateStore{
		states: make(map[string]json.RawMessage),
		notify: notify,
	}
}

// Apply stores state for peerID unconditionally. The caller has already
// verified the producer.
func (s *PeerStateStore) Apply(peerID string, state json.RawMessage) {
	s.states[peerID] = state
	if s.notify != nil {
		s.notify(peerID, state)
	}
}

func (s *PeerStateStore) Get(peerID string) (json.RawMessage, bool) {
	st, ok := s.states[peerID]
	return st, ok
}

func (s *PeerStateStore) Snapshot() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

func (s *PeerStateStore) Len() int {
	return len(s.states)
}

func (s *PeerStateStore) Reset() {
	s.states = make(map[string]json.RawMessage)
}
