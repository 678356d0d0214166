package swarm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/Bluehatcoders/jam/internal/logging"
	"github.com/Bluehatcoders/jam/internal/signaling"
)

// Coordinator maintains a mesh of peer connections for one room.
//
// Every mutation runs under mu. Methods ending in Locked and the signaling
// handlers assume it is held.
type Coordinator struct {
	mu sync.Mutex

	opts      Options
	transport PeerTransport
	open      func(signaling.Config) signaling.Channel
	clock     clock.Clock
	backoff   BackoffPolicy
	bus       *Bus
	log       *slog.Logger

	channel   signaling.Channel
	connID    string
	connected bool

	peers        map[string]*livePeer
	sticky       *StickyRegistry
	state        *PeerStateStore
	sharedState  json.RawMessage
	localStreams map[string]Stream
	remote       remoteStreams
	retries      map[string]*clock.Timer
}

type livePeer struct {
	conn PeerConnection
	host *peerHost
}

func New(transport PeerTransport, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport:    transport,
		open:         openHub,
		clock:        clock.New(),
		backoff:      DefaultBackoff(),
		log:          logging.Component("swarm"),
		peers:        make(map[string]*livePeer),
		localStreams: make(map[string]Stream),
		retries:      make(map[string]*clock.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = NewBus()
	}
	c.sticky = NewStickyRegistry(c.clock, c.backoff)
	c.state = NewPeerStateStore(func(peerID string, state json.RawMessage) {
		c.bus.Emit(Event{Kind: EventPeerStateChanged, PeerID: peerID, Data: state})
	})
	return c
}

// Configure merges the non-empty fields of o into the configuration. The
// peer id cannot change while a channel is open.
func (c *Coordinator) Configure(o Options) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && o.PeerID != "" && o.PeerID != c.opts.PeerID {
		c.log.Warn("ignoring peer id change while connected", "peer", c.opts.PeerID, "requested", o.PeerID)
		o.PeerID = ""
	}
	c.opts.merge(o)
}

// Connect joins room, or the configured room when room is empty. It returns
// immediately; Connected turns true once the relay acknowledges our
// presence. Calling Connect with a channel already open does nothing.
func (c *Coordinator) Connect(room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(room)
}

func (c *Coordinator) connectLocked(room string) error {
	if c.channel != nil {
		return nil
	}
	if room != "" {
		c.opts.Room = room
	}
	if c.opts.Room == "" {
		return c.configError(ErrMissingRoom)
	}
	if c.opts.URL == "" {
		return c.configError(ErrMissingURL)
	}

	connID := randomHex4()
	c.connID = connID
	c.trace("connecting", "connection", connID, "room", c.opts.Room)

	cfg := signaling.Config{
		URL:    c.opts.URL,
		Room:   c.opts.Room,
		PeerID: c.opts.PeerID,
		Logger: c.log,
	}
	if c.opts.Sign != nil || c.opts.Verify != nil {
		cfg.Auth = signaling.AuthFuncs{SignFunc: c.opts.Sign, VerifyFunc: c.opts.Verify}
	}

	ch := c.open(cfg)
	c.channel = ch

	// Subscribe before announcing so no reply can race past us.
	ch.Subscribe(signaling.TopicAnnounce, func(p signaling.Payload) { c.onAnnounce(ch, p) })
	ch.Subscribe(signaling.SignalTopic(c.opts.PeerID), func(p signaling.Payload) { c.onSignal(ch, p) })
	ch.Subscribe(signaling.TopicAll, func(p signaling.Payload) { c.onAll(ch, p) })
	ch.SubscribeAnonymous(signaling.TopicAnonymous, func(raw json.RawMessage) { c.onAnonymous(ch, raw) })

	ack := ch.Broadcast(signaling.TopicAnnounce, signaling.Payload{
		PeerID:       c.opts.PeerID,
		ConnectionID: connID,
		SharedState:  c.sharedState,
	})
	go c.awaitPresence(ch, ack)

	if d, ok := ch.(interface{ Done() <-chan struct{} }); ok {
		go c.watch(ch, d.Done())
	}
	return nil
}

func (c *Coordinator) configError(err error) error {
	e := NewError("connect", KindConfiguration, err)
	c.log.Error("cannot connect", "error", e)
	return e
}

// awaitPresence is the continuation of the presence broadcast.
func (c *Coordinator) awaitPresence(ch signaling.Channel, ack <-chan error) {
	err := <-ack

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != ch {
		return
	}
	if err != nil {
		c.log.Error("error connecting to signaling relay", "error", NewError("connect", KindTransport, err))
		c.disconnectLocked()
		return
	}

	c.connected = true
	c.trace("connected", "connection", c.connID)
	c.bus.Emit(Event{Kind: EventConnectionChanged, Connected: true})
}

// watch disconnects when the channel dies underneath us.
func (c *Coordinator) watch(ch signaling.Channel, done <-chan struct{}) {
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != ch {
		return
	}
	c.log.Warn("signaling connection lost")
	c.disconnectLocked()
}

// Disconnect closes the channel and tears down every peer connection.
// Sticky peers and peer state survive. The returned error collects the
// teardown failures; each was also logged.
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked()
}

func (c *Coordinator) disconnectLocked() error {
	ch := c.channel
	wasOpen := ch != nil || c.connected

	c.channel = nil
	c.connID = ""
	c.connected = false

	if ch != nil {
		if err := ch.Close(); err != nil {
			c.log.Warn("closing signaling channel", "error", err)
		}
	}

	var errs error
	for _, id := range c.peerIDsLocked() {
		errs = multierr.Append(errs, c.removePeerLocked(id, "disconnect"))
	}

	for id, t := range c.retries {
		t.Stop()
		delete(c.retries, id)
	}

	if wasOpen {
		c.trace("disconnected")
		c.bus.Emit(Event{Kind: EventConnectionChanged, Connected: false})
	}
	return errs
}

// Reconnect disconnects and connects again to the configured room.
func (c *Coordinator) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := c.disconnectLocked()
	return multierr.Append(errs, c.connectLocked(""))
}

// AddLocalStream attaches stream to every live peer and to every peer
// connected later. An empty name gets a random one. Failing peers are
// logged and skipped.
func (c *Coordinator) AddLocalStream(stream Stream, name string) (string, error) {
	if stream == nil {
		return "", NewError("add stream", KindStreamAttach, ErrNilStream)
	}
	if name == "" {
		name = randomHex4()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.trace("add local stream", "name", name, "stream", stream.ID())
	c.localStreams[name] = stream

	var errs error
	for _, id := range c.peerIDsLocked() {
		if err := c.peers[id].conn.AttachStream(stream, name); err != nil {
			e := NewPeerError("add stream", id, KindStreamAttach, err)
			c.log.Warn("attaching stream failed", "peer", id, "name", name, "error", err)
			errs = multierr.Append(errs, e)
		}
	}
	return name, errs
}

// SetSharedState stores v as our shared state and broadcasts it.
func (c *Coordinator) SetSharedState(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode shared state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sharedState = raw
	c.broadcastAllLocked(signaling.TypeSharedState, raw)
	return nil
}

// SendSharedEvent broadcasts v as a one-off event to the room.
func (c *Coordinator) SendSharedEvent(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode shared event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.broadcastAllLocked(signaling.TypeSharedEvent, raw)
	return nil
}

func (c *Coordinator) broadcastAllLocked(typ string, data json.RawMessage) {
	if c.channel == nil || c.opts.PeerID == "" {
		return
	}
	c.publishLocked(signaling.TopicAll, signaling.Payload{
		Type:   typ,
		PeerID: c.opts.PeerID,
		Data:   data,
	})
}

// publishLocked sends without waiting for the ack.
func (c *Coordinator) publishLocked(topic string, p signaling.Payload) {
	ack := c.channel.Broadcast(topic, p)
	go func() {
		if err := <-ack; err != nil {
			c.log.Debug("broadcast not acknowledged", "topic", topic, "error", err)
		}
	}()
}

// Reset forgets sticky peers, peer state and remote streams. It fails with
// ErrConnected while a channel is open.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		return ErrConnected
	}
	c.sticky.Reset()
	c.state.Reset()
	c.remote.Reset()
	return nil
}

// Subscribe returns a subscription to the given event kinds, or to all.
// New-peer fires once per peer, but a subscriber that falls behind can miss
// it; Subscription.Dropped tells, and StickyPeers lists every peer seen.
func (c *Coordinator) Subscribe(kinds ...EventKind) *Subscription {
	return c.bus.Subscribe(kinds...)
}

func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Peers returns the ids of peers with a live connection, sorted.
func (c *Coordinator) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerIDsLocked()
}

func (c *Coordinator) PeerState() map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

func (c *Coordinator) StickyPeers() map[string]StickyPeer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sticky.Snapshot()
}

func (c *Coordinator) RemoteStreams() []RemoteStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote.Snapshot()
}

func (c *Coordinator) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

func (c *Coordinator) SharedState() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(json.RawMessage(nil), c.sharedState...)
}

func (c *Coordinator) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.PeerID
}

func (c *Coordinator) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Room
}

func (c *Coordinator) peerIDsLocked() []string {
	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// trace is the causal debug log.
func (c *Coordinator) trace(msg string, args ...any) {
	if c.opts.Debug {
		c.log.Info(msg, args...)
	}
}

func randomHex4() string {
	return fmt.Sprintf("%04x", rand.IntN(1<<16))
}
