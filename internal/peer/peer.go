package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bluehatcoders/jam/internal/swarm"
	"github.com/pion/webrtc/v4"
)

// Peer is one WebRTC connection to a remote peer. Both sides may offer;
// glare is resolved with perfect negotiation where the peer with the
// smaller id is polite.
type Peer struct {
	spec   swarm.PeerSpec
	pc     *webrtc.PeerConnection
	log    *slog.Logger
	polite bool

	// inbox applies remote signals in order, outbox delivers host
	// callbacks in order. Neither runs on the caller's goroutine.
	inbox  *queue
	outbox *queue

	done      chan struct{}
	closeOnce sync.Once
	release   func(*Peer)

	mu          sync.Mutex
	makingOffer bool
	ignoreOffer bool
	pending     []webrtc.ICECandidateInit
	names       map[string]string
	remote      map[string]*RemoteStream
	senders     map[string][]*webrtc.RTPSender
	dc          *webrtc.DataChannel
	hello       HelloPayload

	rtt atomic.Int64
}

func newPeer(api *webrtc.API, cfg webrtc.Configuration, spec swarm.PeerSpec, log *slog.Logger) (*Peer, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, NewPeerError("create peer connection", spec.PeerID, err)
	}

	done := make(chan struct{})
	p := &Peer{
		spec:    spec,
		pc:      pc,
		log:     log.With("peer", spec.PeerID, "conn", spec.ConnectionID),
		polite:  spec.LocalPeerID < spec.PeerID,
		inbox:   newQueue(done),
		outbox:  newQueue(done),
		done:    done,
		names:   make(map[string]string),
		remote:  make(map[string]*RemoteStream),
		senders: make(map[string][]*webrtc.RTPSender),
	}
	p.setupHandlers()

	if spec.Initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			p.Destroy()
			return nil, NewPeerError("create data channel", spec.PeerID, err)
		}
		p.setChannel(dc)
		go p.negotiate()
	}
	return p, nil
}

func (p *Peer) PeerID() string       { return p.spec.PeerID }
func (p *Peer) ConnectionID() string { return p.spec.ConnectionID }

func (p *Peer) setupHandlers() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.send(&Signal{Type: SignalCandidate, Candidate: &init})
	})

	// Handlers run on pion's operation goroutine; negotiating there would
	// block it.
	p.pc.OnNegotiationNeeded(func() {
		go p.negotiate()
	})

	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == dataChannelLabel {
			p.setChannel(dc)
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.onTrack(track)
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("connection state", "state", state.String())
		host := p.spec.Host
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.outbox.push(host.Connected)
		case webrtc.PeerConnectionStateFailed:
			err := NewPeerError("connect", p.spec.PeerID, ErrConnectionFailed)
			p.outbox.push(func() { host.Failed(err) })
		}
	})
}

// send hands a signal to the host without blocking.
func (p *Peer) send(s *Signal) {
	data := s.encode()
	host := p.spec.Host
	p.outbox.push(func() { host.SendSignal(data) })
}

func (p *Peer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Peer) negotiate() {
	p.mu.Lock()
	if p.makingOffer || p.closed() {
		p.mu.Unlock()
		return
	}
	p.makingOffer = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.makingOffer = false
		p.mu.Unlock()
	}()

	if p.pc.SignalingState() != webrtc.SignalingStateStable {
		return
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.log.Debug("create offer failed", "error", err)
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.log.Debug("set local offer failed", "error", err)
		return
	}
	p.send(&Signal{Type: SignalOffer, SDP: p.pc.LocalDescription().SDP})
}

// HandleSignal decodes data and queues it for the negotiation goroutine.
func (p *Peer) HandleSignal(data json.RawMessage) error {
	if p.closed() {
		return NewPeerError("handle signal", p.spec.PeerID, ErrClosed)
	}
	s, err := DecodeSignal(data)
	if err != nil {
		return err
	}
	p.inbox.push(func() { p.handle(s) })
	return nil
}

func (p *Peer) handle(s *Signal) {
	switch s.Type {
	case SignalStream:
		p.mu.Lock()
		p.names[s.StreamID] = s.Name
		p.mu.Unlock()
	case SignalCandidate:
		p.addCandidate(*s.Candidate)
	case SignalOffer, SignalAnswer:
		p.handleDescription(s)
	}
}

func (p *Peer) handleDescription(s *Signal) {
	desc := s.description()

	p.mu.Lock()
	collision := desc.Type == webrtc.SDPTypeOffer &&
		(p.makingOffer || p.pc.SignalingState() != webrtc.SignalingStateStable)
	p.ignoreOffer = !p.polite && collision
	ignore := p.ignoreOffer
	p.mu.Unlock()

	if ignore {
		p.log.Debug("ignoring colliding offer")
		return
	}

	if collision && p.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if err := p.rollback(); err != nil {
			p.log.Warn("rollback failed", "error", err)
			return
		}
	}

	if err := p.setRemote(desc); err != nil {
		p.log.Warn("set remote description failed", "type", s.Type, "error", err)
		return
	}
	p.flushCandidates()

	if desc.Type != webrtc.SDPTypeOffer {
		return
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.log.Warn("create answer failed", "error", err)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.log.Warn("set local answer failed", "error", err)
		return
	}
	p.send(&Signal{Type: SignalAnswer, SDP: p.pc.LocalDescription().SDP})
}

// setRemote applies desc. A polite peer whose own offer landed between the
// collision check and now rolls back and tries again.
func (p *Peer) setRemote(desc webrtc.SessionDescription) error {
	err := p.pc.SetRemoteDescription(desc)
	if err == nil || !p.polite || desc.Type != webrtc.SDPTypeOffer ||
		p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return err
	}
	if rerr := p.rollback(); rerr != nil {
		return rerr
	}
	return p.pc.SetRemoteDescription(desc)
}

// rollback discards our pending offer. pion wants the pending SDP echoed
// back rather than an empty description.
func (p *Peer) rollback() error {
	local := p.pc.PendingLocalDescription()
	if local == nil {
		return nil
	}
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeRollback,
		SDP:  local.SDP,
	})
}

// addCandidate buffers candidates that arrive before the remote
// description.
func (p *Peer) addCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return
	}
	ignore := p.ignoreOffer
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(c); err != nil && !ignore {
		p.log.Debug("add candidate failed", "error", err)
	}
}

func (p *Peer) flushCandidates() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.log.Debug("add buffered candidate failed", "error", err)
		}
	}
}

func (p *Peer) onTrack(track *webrtc.TrackRemote) {
	id := track.StreamID()

	p.mu.Lock()
	rs, known := p.remote[id]
	if !known {
		rs = newRemoteStream(id)
		p.remote[id] = rs
	}
	name := p.names[id]
	p.mu.Unlock()

	rs.addTrack(track)
	p.log.Debug("remote track", "stream", id, "name", name, "kind", track.Kind().String())

	if !known {
		host := p.spec.Host
		p.outbox.push(func() { host.AddRemoteStream(name, rs) })
	}
}

// AttachStream adds the tracks of a LocalStream. The stream's name is
// signalled first so the remote side can label it when the tracks arrive.
// Attaching a second stream under the same name replaces the first.
func (p *Peer) AttachStream(stream swarm.Stream, name string) error {
	ls, ok := stream.(*LocalStream)
	if !ok {
		return WrapError("attach stream", ErrUnsupportedType, fmt.Sprintf("%T", stream))
	}
	if p.closed() {
		return NewPeerError("attach stream", p.spec.PeerID, ErrClosed)
	}

	p.mu.Lock()
	old := p.senders[name]
	delete(p.senders, name)
	p.mu.Unlock()
	for _, s := range old {
		if err := p.pc.RemoveTrack(s); err != nil {
			p.log.Debug("remove track failed", "name", name, "error", err)
		}
	}

	p.send(&Signal{Type: SignalStream, StreamID: ls.ID(), Name: name})

	senders := make([]*webrtc.RTPSender, 0, len(ls.Tracks()))
	for _, track := range ls.Tracks() {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return NewPeerError("add track", p.spec.PeerID, err)
		}
		senders = append(senders, sender)
		go drainRTCP(sender)
	}

	p.mu.Lock()
	p.senders[name] = senders
	p.mu.Unlock()
	return nil
}

// drainRTCP reads RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Destroy closes the connection. Calling it again is a no-op.
func (p *Peer) Destroy() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if p.release != nil {
			p.release(p)
		}
		if cerr := p.pc.Close(); cerr != nil {
			err = NewPeerError("close", p.spec.PeerID, cerr)
		}
	})
	return err
}

// Stats is a point-in-time view of a connection.
type Stats struct {
	PeerID       string
	ConnectionID string
	State        webrtc.PeerConnectionState
	Signaling    webrtc.SignalingState
	RTT          time.Duration
	ClientType   string
	Version      string
	Streams      int
	Packets      int64
	Bytes        int64
}

func (p *Peer) Stats() Stats {
	p.mu.Lock()
	st := Stats{
		PeerID:       p.spec.PeerID,
		ConnectionID: p.spec.ConnectionID,
		ClientType:   p.hello.ClientType,
		Version:      p.hello.Version,
		Streams:      len(p.remote),
	}
	for _, rs := range p.remote {
		st.Packets += rs.Packets()
		st.Bytes += rs.Bytes()
	}
	p.mu.Unlock()

	st.State = p.pc.ConnectionState()
	st.Signaling = p.pc.SignalingState()
	st.RTT = time.Duration(p.rtt.Load())
	return st
}
