package swarm

import (
	"encoding/json"

	"github.com/Bluehatcoders/jam/internal/signaling"
)

// peerHost is the PeerHost handed to one connection.
type peerHost struct {
	c      *Coordinator
	peerID string
}

var _ PeerHost = (*peerHost)(nil)

// liveLocked reports whether h still belongs to the peer's live connection.
func (h *peerHost) liveLocked() (*livePeer, bool) {
	lp, ok := h.c.peers[h.peerID]
	return lp, ok && lp.host == h
}

func (h *peerHost) SendSignal(data json.RawMessage) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := h.liveLocked(); !ok || c.channel == nil {
		return
	}

	var expected string
	if sp, ok := c.sticky.Get(h.peerID); ok {
		expected = sp.ConnectionID
	}
	c.publishLocked(signaling.SignalTopic(h.peerID), signaling.Payload{
		PeerID:               c.opts.PeerID,
		ConnectionID:         c.connID,
		ExpectedConnectionID: expected,
		Data:                 data,
		SharedState:          c.sharedState,
	})
}

func (h *peerHost) Connected() {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := h.liveLocked(); !ok {
		return
	}
	c.trace("peer connected", "peer", h.peerID)
	c.sticky.RecordConnected(h.peerID)
}

// Failed records the failure, drops the connection and schedules a retry.
func (h *peerHost) Failed(err error) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := h.liveLocked(); !ok {
		return
	}
	c.log.Info("peer connection failed", "peer", h.peerID, "error", err)

	c.sticky.RecordFailure(h.peerID)
	if rerr := c.removePeerLocked(h.peerID, "peer failed"); rerr != nil {
		c.log.Debug("failed peer teardown", "peer", h.peerID, "error", rerr)
	}
	c.scheduleRetryLocked(h.peerID)
}

func (h *peerHost) AddRemoteStream(name string, stream Stream) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := h.liveLocked(); !ok {
		return
	}
	c.trace("remote stream", "peer", h.peerID, "name", name, "stream", stream.ID())

	c.sticky.RecordStream(h.peerID)
	rs := RemoteStream{Stream: stream, Name: name, PeerID: h.peerID}
	if old, replaced := c.remote.Add(rs); replaced {
		c.bus.Emit(Event{Kind: EventStreamRemoved, PeerID: h.peerID, Stream: &old})
	}
	c.bus.Emit(Event{Kind: EventStreamAdded, PeerID: h.peerID, Stream: &rs})
}
