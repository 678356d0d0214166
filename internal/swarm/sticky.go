package swarm

import (
	"time"

	"github.com/benbjohnson/clock"
)

// StickyPeer is what the swarm remembers about a peer across connection
// attempts.
type StickyPeer struct {
	HadStream bool

	// LastFailure is zero until a connection to the peer fails.
	LastFailure time.Time

	// Failures counts consecutive failures since the last successful connection.
	Failures int

	// ConnectionID is the peer's most recently observed connection id.
	ConnectionID string
}

const (
	maxBackoffExponent = 6

	// maxRetiredConnections bounds how many superseded connection ids are
	// remembered per peer.
	maxRetiredConnections = 8
)

// BackoffPolicy decides how long to wait before dialing a peer again.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: 2 * time.Second, Max: time.Minute}
}

// Delay is Base*2^(failures-1), doubled for peers that never sent a stream,
// capped at Max.
func (b BackoffPolicy) Delay(failures int, hadStream bool) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := b.Base * time.Duration(1<<min(failures-1, maxBackoffExponent))
	if !hadStream {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// StickyRegistry tracks sticky peers for one swarm session. It is guarded
// by the coordinator's lock.
type StickyRegistry struct {
	clock   clock.Clock
	backoff BackoffPolicy
	peers   map[string]*StickyPeer

	// retired holds connection ids each peer has moved away from.
	retired map[string][]string
}

func NewStickyRegistry(clk clock.Clock, backoff BackoffPolicy) *StickyRegistry {
	if clk == nil {
		clk = clock.New()
	}
	return &StickyRegistry{
		clock:   clk,
		backoff: backoff,
		peers:   make(map[string]*StickyPeer),
		retired: make(map[string][]string),
	}
}

// Observe records that peerID is alive under connID. It reports whether
// this is the first time the peer was seen. The id it replaces is retired.
func (r *StickyRegistry) Observe(peerID, connID string) bool {
	p, ok := r.peers[peerID]
	if !ok {
		p = &StickyPeer{}
		r.peers[peerID] = p
	}
	if p.ConnectionID != "" && p.ConnectionID != connID {
		ids := append(r.retired[peerID], p.ConnectionID)
		if len(ids) > maxRetiredConnections {
			ids = ids[len(ids)-maxRetiredConnections:]
		}
		r.retired[peerID] = ids
	}
	p.ConnectionID = connID
	return !ok
}

// Retired reports whether peerID has already moved on from connID.
func (r *StickyRegistry) Retired(peerID, connID string) bool {
	if connID == "" {
		return false
	}
	if p, ok := r.peers[peerID]; ok && p.ConnectionID == connID {
		return false
	}
	for _, id := range r.retired[peerID] {
		if id == connID {
			return true
		}
	}
	return false
}

func (r *StickyRegistry) RecordFailure(peerID string) {
	if p, ok := r.peers[peerID]; ok {
		p.LastFailure = r.clock.Now()
		p.Failures++
	}
}

func (r *StickyRegistry) RecordStream(peerID string) {
	if p, ok := r.peers[peerID]; ok {
		p.HadStream = true
	}
}

// RecordConnected clears the failure count. LastFailure is kept.
func (r *StickyRegistry) RecordConnected(peerID string) {
	if p, ok := r.peers[peerID]; ok {
		p.Failures = 0
	}
}

// RetryAt is the earliest time an outbound attempt to peerID is allowed.
// It is zero for peers without outstanding failures.
func (r *StickyRegistry) RetryAt(peerID string) time.Time {
	p, ok := r.peers[peerID]
	if !ok || p.Failures == 0 {
		return time.Time{}
	}
	return p.LastFailure.Add(r.backoff.Delay(p.Failures, p.HadStream))
}

func (r *StickyRegistry) Get(peerID string) (StickyPeer, bool) {
	p, ok := r.peers[peerID]
	if !ok {
		return StickyPeer{}, false
	}
	return *p, true
}

func (r *StickyRegistry) Snapshot() map[string]StickyPeer {
	out := make(map[string]StickyPeer, len(r.peers))
	for id, p := range r.peers {
		out[id] = *p
	}
	return out
}

func (r *StickyRegistry) Len() int {
	return len(r.peers)
}

func (r *StickyRegistry) Reset() {
	r.peers = make(map[string]*StickyPeer)
	r.retired = make(map[string][]string)
}
