package peer

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/Bluehatcoders/jam/internal/logging"
	"github.com/Bluehatcoders/jam/internal/swarm"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"
)

// Manager opens WebRTC connections for the swarm. It keeps at most one
// live Peer per remote peer id.
type Manager struct {
	api *webrtc.API
	rtc webrtc.Configuration
	log *slog.Logger

	mu    sync.Mutex
	peers map[string]*Peer
}

var _ swarm.PeerTransport = (*Manager)(nil)

// NewManager builds a pion API with the default codecs and interceptors.
func NewManager(rtc webrtc.Configuration, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = logging.Component("peer")
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, NewError("register codecs", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, NewError("register interceptors", err)
	}

	return &Manager{
		api:   webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)),
		rtc:   rtc,
		log:   log,
		peers: make(map[string]*Peer),
	}, nil
}

// Open returns the live Peer for spec, or replaces a stale one. A
// connection for a different remote connection id is stale.
func (m *Manager) Open(spec swarm.PeerSpec) (swarm.PeerConnection, error) {
	m.mu.Lock()
	old := m.peers[spec.PeerID]
	m.mu.Unlock()

	if old != nil {
		if !old.closed() && old.spec.ConnectionID == spec.ConnectionID {
			return old, nil
		}
		old.Destroy()
	}

	p, err := newPeer(m.api, m.configFor(spec), spec, m.log)
	if err != nil {
		return nil, err
	}
	p.release = m.forget

	m.mu.Lock()
	m.peers[spec.PeerID] = p
	m.mu.Unlock()
	return p, nil
}

// configFor lets a swarm-level connection config override the default.
func (m *Manager) configFor(spec swarm.PeerSpec) webrtc.Configuration {
	switch c := spec.Config.(type) {
	case *webrtc.Configuration:
		if c != nil {
			return *c
		}
	case webrtc.Configuration:
		return c
	}
	return m.rtc
}

func (m *Manager) forget(p *Peer) {
	m.mu.Lock()
	if m.peers[p.spec.PeerID] == p {
		delete(m.peers, p.spec.PeerID)
	}
	m.mu.Unlock()
}

// Destroy closes the connection to peerID, if any.
func (m *Manager) Destroy(peerID string) error {
	m.mu.Lock()
	p := m.peers[peerID]
	m.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Destroy()
}

// Get returns the live connection to peerID.
func (m *Manager) Get(peerID string) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[peerID]
	return p, ok
}

// Stats returns stats for peerID's connection.
func (m *Manager) Stats(peerID string) (Stats, bool) {
	p, ok := m.Get(peerID)
	if !ok {
		return Stats{}, false
	}
	return p.Stats(), true
}

// AllStats returns stats for every live connection, ordered by peer id.
func (m *Manager) AllStats() []Stats {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Close destroys every connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	var err error
	for _, p := range peers {
		err = multierr.Append(err, p.Destroy())
	}
	return err
}
