package swarm

import (
	"encoding/json"

	"github.com/benbjohnson/clock"

	"github.com/Bluehatcoders/jam/internal/signaling"
)

func (c *Coordinator) onAnnounce(ch signaling.Channel, p signaling.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != ch || p.PeerID == "" || p.PeerID == c.opts.PeerID {
		return
	}
	if c.sticky.Retired(p.PeerID, p.ConnectionID) {
		c.trace("dropping announce from retired connection", "peer", p.PeerID, "connection", p.ConnectionID)
		return
	}
	c.trace("got connect-me", "peer", p.PeerID, "connection", p.ConnectionID)
	c.initializePeerLocked(p.PeerID, p.ConnectionID, p.SharedState)
	c.connectPeerLocked(p.PeerID, p.ConnectionID)
}

func (c *Coordinator) onSignal(ch signaling.Channel, p signaling.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != ch || p.PeerID == "" || p.PeerID == c.opts.PeerID {
		return
	}
	c.trace("signal received", "peer", p.PeerID, "connection", p.ConnectionID, "expected", p.ExpectedConnectionID)
	if c.sticky.Retired(p.PeerID, p.ConnectionID) {
		c.trace("dropping signal from retired connection", "peer", p.PeerID, "connection", p.ConnectionID)
		return
	}
	c.initializePeerLocked(p.PeerID, p.ConnectionID, p.SharedState)

	if p.ExpectedConnectionID != "" && p.ExpectedConnectionID != c.connID {
		c.trace("dropping stale signal", "peer", p.PeerID, "expected", p.ExpectedConnectionID, "connection", c.connID)
		return
	}

	lp := c.peers[p.PeerID]
	if lp == nil || lp.conn.ConnectionID() != p.ConnectionID {
		if lp = c.openPeerLocked(p.PeerID, p.ConnectionID, false); lp == nil {
			return
		}
	}
	if err := lp.conn.HandleSignal(p.Data); err != nil {
		c.log.Warn("handling signal failed", "peer", p.PeerID, "error", err)
	}
}

func (c *Coordinator) onAll(ch signaling.Channel, p signaling.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != ch || p.PeerID == "" {
		return
	}
	switch p.Type {
	case signaling.TypeSharedState:
		// Empty data means verification dropped it.
		if len(p.Data) == 0 {
			return
		}
		c.state.Apply(p.PeerID, p.Data)
	case signaling.TypeSharedEvent:
		c.bus.Emit(Event{Kind: EventPeerEvent, PeerID: p.PeerID, Data: p.Data})
	}
}

func (c *Coordinator) onAnonymous(ch signaling.Channel, raw json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != ch {
		return
	}
	c.bus.Emit(Event{Kind: EventAnonymous, Data: raw})
}

// initializePeerLocked registers every observation of a peer. The new-peer
// event fires only on the first one.
func (c *Coordinator) initializePeerLocked(peerID, connID string, state json.RawMessage) {
	if c.sticky.Observe(peerID, connID) {
		c.bus.Emit(Event{Kind: EventNewPeer, PeerID: peerID})
	}
	if hasState(state) {
		c.state.Apply(peerID, state)
	}
}

func hasState(state json.RawMessage) bool {
	return len(state) > 0 && string(state) != "null"
}

// connectPeerLocked dials peerID unless a connection for connID exists or
// the peer is still backing off.
func (c *Coordinator) connectPeerLocked(peerID, connID string) {
	if lp := c.peers[peerID]; lp != nil && lp.conn.ConnectionID() == connID {
		return
	}
	if at := c.sticky.RetryAt(peerID); c.clock.Now().Before(at) {
		c.scheduleRetryLocked(peerID)
		return
	}
	c.openPeerLocked(peerID, connID, true)
}

func (c *Coordinator) openPeerLocked(peerID, connID string, initiator bool) *livePeer {
	if c.peers[peerID] != nil {
		if err := c.removePeerLocked(peerID, "replace"); err != nil {
			c.log.Debug("replaced peer teardown", "peer", peerID, "error", err)
		}
	}
	c.stopRetryLocked(peerID)

	host := &peerHost{c: c, peerID: peerID}
	conn, err := c.transport.Open(PeerSpec{
		PeerID:            peerID,
		ConnectionID:      connID,
		LocalPeerID:       c.opts.PeerID,
		LocalConnectionID: c.connID,
		Initiator:         initiator,
		Config:            c.opts.ConnectionConfig,
		Host:              host,
	})
	if err != nil {
		c.log.Warn("opening peer connection failed", "peer", peerID, "error", NewPeerError("connect", peerID, KindTransport, err))
		return nil
	}
	c.trace("peer connection opened", "peer", peerID, "connection", connID, "initiator", initiator)

	lp := &livePeer{conn: conn, host: host}
	c.peers[peerID] = lp

	for name, stream := range c.localStreams {
		if err := conn.AttachStream(stream, name); err != nil {
			c.log.Warn("attaching stream failed", "peer", peerID, "name", name, "error", err)
		}
	}
	return lp
}

// removePeerLocked destroys the live connection to peerID and forgets its
// streams.
func (c *Coordinator) removePeerLocked(peerID, op string) error {
	lp, ok := c.peers[peerID]
	if !ok {
		return nil
	}
	delete(c.peers, peerID)

	var err error
	if derr := lp.conn.Destroy(); derr != nil {
		err = NewPeerError(op, peerID, KindPeerTeardown, derr)
		c.log.Warn("peer teardown failed", "peer", peerID, "error", derr)
	}

	for _, rs := range c.remote.RemoveByPeer(peerID) {
		c.bus.Emit(Event{Kind: EventStreamRemoved, PeerID: peerID, Stream: &rs})
	}
	c.bus.Emit(Event{Kind: EventPeerRemoved, PeerID: peerID})
	return err
}

// scheduleRetryLocked dials peerID again once its backoff has passed.
func (c *Coordinator) scheduleRetryLocked(peerID string) {
	c.stopRetryLocked(peerID)
	if c.channel == nil {
		return
	}

	ch := c.channel
	delay := c.sticky.RetryAt(peerID).Sub(c.clock.Now())
	c.trace("retry scheduled", "peer", peerID, "delay", delay)

	var t *clock.Timer
	t = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.retries[peerID] != t || c.channel != ch {
			return
		}
		delete(c.retries, peerID)

		if sp, ok := c.sticky.Get(peerID); ok {
			c.connectPeerLocked(peerID, sp.ConnectionID)
		}
	})
	c.retries[peerID] = t
}

func (c *Coordinator) stopRetryLocked(peerID string) {
	if t, ok := c.retries[peerID]; ok {
		t.Stop()
		delete(c.retries, peerID)
	}
}
