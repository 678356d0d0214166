package swarm

// Stream is a media stream handle. The swarm only needs a stable identity;
// the peer transport knows the concrete type.
type Stream interface {
	ID() string
}

// RemoteStream is a stream received from a peer.
type RemoteStream struct {
	Stream Stream
	Name   string
	PeerID string
}

// remoteStreams keeps arrival order and at most one entry per non-empty
// (Name, PeerID).
type remoteStreams struct {
	list []RemoteStream
}

// Add appends rs, replacing an older entry with the same name from the
// same peer. The replaced entry is returned.
func (r *remoteStreams) Add(rs RemoteStream) (RemoteStream, bool) {
	var (
		old      RemoteStream
		replaced bool
	)
	if rs.Name != "" {
		kept := r.list[:0]
		for _, s := range r.list {
			if s.Name == rs.Name && s.PeerID == rs.PeerID {
				old, replaced = s, true
				continue
			}
			kept = append(kept, s)
		}
		r.list = kept
	}
	r.list = append(r.list, rs)
	return old, replaced
}

// RemoveByPeer drops every stream from peerID and returns them.
func (r *remoteStreams) RemoveByPeer(peerID string) []RemoteStream {
	var removed []RemoteStream
	kept := r.list[:0]
	for _, s := range r.list {
		if s.PeerID == peerID {
			removed = append(removed, s)
			continue
		}
		kept = append(kept, s)
	}
	r.list = kept
	return removed
}

func (r *remoteStreams) Snapshot() []RemoteStream {
	return append([]RemoteStream(nil), r.list...)
}

func (r *remoteStreams) Reset() {
	r.list = nil
}
