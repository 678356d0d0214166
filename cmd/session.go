package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Bluehatcoders/jam/internal/config"
	"github.com/Bluehatcoders/jam/internal/identity"
	"github.com/Bluehatcoders/jam/internal/peer"
	"github.com/Bluehatcoders/jam/internal/swarm"
	"github.com/Bluehatcoders/jam/internal/ui"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const joinTimeout = 15 * time.Second

var errJoinTimeout = errors.New("timed out waiting for the relay")

// LoadConfig loads config and rejects combinations that cannot work.
func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// defaultIdentityPath is where the peer's key lives between runs.
func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".jam-identity"
	}
	return filepath.Join(dir, "jam", "identity")
}

// handState is the shared state this CLI publishes.
type handState struct {
	Hand bool `json:"hand"`
}

// session wires config, identity, the WebRTC manager and the swarm
// coordinator together for one room.
type session struct {
	cfg   *config.Config
	peers *peer.Manager
	swarm *swarm.Coordinator
	bus   *swarm.Bus

	// sub feeds the room view, counter feeds the summary.
	sub     *swarm.Subscription
	counter *swarm.Subscription

	started time.Time

	mu       sync.Mutex
	hand     bool
	seen     map[string]bool
	events   int
	failures int
	streams  int
}

// newSession prepares a coordinator. With ephemeral set the peer gets a
// random id and shared state is neither signed nor verified.
func newSession(cfg *config.Config, ephemeral bool, keyPath string) (*session, error) {
	opts := swarm.Options{
		URL:    cfg.URL,
		PeerID: cfg.PeerID,
		Debug:  cfg.Debug,
	}

	if ephemeral {
		if opts.PeerID == "" {
			opts.PeerID = uuid.NewString()
		}
	} else {
		id, err := identity.LoadOrCreate(keyPath)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
		opts.PeerID = id.PeerID()
		opts.Sign = id.Sign
		opts.Verify = identity.NewVerifier(0).Verify
	}

	peers, err := peer.NewManager(peer.ICEConfiguration(cfg), nil)
	if err != nil {
		return nil, err
	}

	bus := swarm.NewBus()
	coord := swarm.New(peers, swarm.WithBus(bus))
	coord.Configure(opts)

	s := &session{
		cfg:     cfg,
		peers:   peers,
		swarm:   coord,
		bus:     bus,
		sub:     coord.Subscribe(),
		counter: coord.Subscribe(),
		seen:    make(map[string]bool),
	}
	go s.count(s.counter)
	return s, nil
}

// count keeps the numbers shown in the summary.
func (s *session) count(sub *swarm.Subscription) {
	for e := range sub.C {
		s.mu.Lock()
		switch e.Kind {
		case swarm.EventNewPeer:
			s.seen[e.PeerID] = true
		case swarm.EventPeerEvent:
			s.events++
		case swarm.EventStreamAdded:
			s.streams++
		case swarm.EventPeerRemoved:
			if sticky, ok := s.swarm.StickyPeers()[e.PeerID]; ok && sticky.Failures > 0 {
				s.failures++
			}
		}
		s.mu.Unlock()
	}
}

// join connects to room and waits until the relay has acknowledged us.
func (s *session) join(ctx context.Context, room string) error {
	waiter := s.swarm.Subscribe(swarm.EventConnectionChanged)
	defer waiter.Close()

	s.started = time.Now()
	if err := s.swarm.Connect(room); err != nil {
		return err
	}
	if s.swarm.Connected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	for {
		select {
		case e, ok := <-waiter.C:
			if !ok {
				return errJoinTimeout
			}
			if e.Connected {
				return nil
			}
			return fmt.Errorf("join %s: relay rejected presence", room)
		case <-ctx.Done():
			return errJoinTimeout
		}
	}
}

func (s *session) toggleHand() error {
	s.mu.Lock()
	s.hand = !s.hand
	hand := s.hand
	s.mu.Unlock()
	return s.swarm.SetSharedState(handState{Hand: hand})
}

func (s *session) wave() error {
	return s.swarm.SendSharedEvent("👋")
}

func (s *session) reconnect() error {
	return s.swarm.Reconnect()
}

// snapshot is polled by the room view.
func (s *session) snapshot() ui.RoomSnapshot {
	states := s.swarm.PeerState()
	sticky := s.swarm.StickyPeers()

	snap := ui.RoomSnapshot{
		Room:      s.swarm.Room(),
		PeerID:    s.swarm.PeerID(),
		Connected: s.swarm.Connected(),
	}
	for _, id := range s.swarm.Peers() {
		row := ui.PeerRow{PeerID: id, State: "connecting"}
		if st, ok := s.peers.Stats(id); ok {
			row.State = st.State.String()
			row.RTT = st.RTT
			row.Client = st.ClientType
			row.Streams = st.Streams
		}
		row.Failures = sticky[id].Failures

		var hs handState
		if raw, ok := states[id]; ok && json.Unmarshal(raw, &hs) == nil {
			row.Hand = hs.Hand
		}
		snap.Peers = append(snap.Peers, row)
	}
	return snap
}

func (s *session) summary() ui.SessionSummary {
	var received int64
	for _, rs := range s.swarm.RemoteStreams() {
		if r, ok := rs.Stream.(*peer.RemoteStream); ok {
			received += r.Bytes()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return ui.SessionSummary{
		Room:      s.swarm.Room(),
		PeerID:    s.swarm.PeerID(),
		Duration:  time.Since(s.started),
		PeersSeen: len(s.seen),
		Streams:   s.streams,
		Received:  received,
		Events:    s.events,
		Failures:  s.failures,
		Dropped:   s.bus.Dropped(),
	}
}

// Close leaves the room and tears down every connection.
func (s *session) Close() error {
	err := s.swarm.Disconnect()
	err = multierr.Append(err, s.peers.Close())
	s.sub.Close()
	s.counter.Close()
	return err
}
