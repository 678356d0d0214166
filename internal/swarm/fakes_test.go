package swarm

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/Bluehatcoders/jam/internal/signaling"
)

type sentMessage struct {
	topic   string
	payload signaling.Payload
	ack     chan error
}

type fakeChannel struct {
	mu       sync.Mutex
	cfg      signaling.Config
	subs     map[string]func(signaling.Payload)
	anon     map[string]func(json.RawMessage)
	sent     []sentMessage
	autoAck  bool
	closed   int
	closeErr error
	done     chan struct{}
}

func (f *fakeChannel) Broadcast(topic string, p signaling.Payload) <-chan error {
	ack := make(chan error, 1)
	if f.autoAck {
		ack <- nil
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{topic: topic, payload: p, ack: ack})
	f.mu.Unlock()
	return ack
}

func (f *fakeChannel) Subscribe(topic string, h func(signaling.Payload)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = h
}

func (f *fakeChannel) SubscribeAnonymous(topic string, h func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anon[topic] = h
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

func (f *fakeChannel) Done() <-chan struct{} {
	return f.done
}

// deliver plays an inbound message as the hub's read goroutine would.
func (f *fakeChannel) deliver(topic string, p signaling.Payload) {
	f.mu.Lock()
	h := f.subs[topic]
	f.mu.Unlock()
	if h != nil {
		h(p)
	}
}

func (f *fakeChannel) deliverAnonymous(topic string, raw json.RawMessage) {
	f.mu.Lock()
	h := f.anon[topic]
	f.mu.Unlock()
	if h != nil {
		h(raw)
	}
}

func (f *fakeChannel) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeChannel) last() sentMessage {
	msgs := f.messages()
	return msgs[len(msgs)-1]
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for t := range f.subs {
		out = append(out, t)
	}
	return out
}

type fakeOpener struct {
	mu       sync.Mutex
	manual   bool
	closeErr error
	opened   []*fakeChannel
}

func (o *fakeOpener) open(cfg signaling.Config) signaling.Channel {
	ch := &fakeChannel{
		cfg:      cfg,
		subs:     make(map[string]func(signaling.Payload)),
		anon:     make(map[string]func(json.RawMessage)),
		autoAck:  !o.manual,
		closeErr: o.closeErr,
		done:     make(chan struct{}),
	}
	o.mu.Lock()
	o.opened = append(o.opened, ch)
	o.mu.Unlock()
	return ch
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func (o *fakeOpener) current() *fakeChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[len(o.opened)-1]
}

type fakeStream string

func (s fakeStream) ID() string { return string(s) }

type fakeConn struct {
	mu         sync.Mutex
	spec       PeerSpec
	attached   []string
	signals    []json.RawMessage
	destroyed  int
	attachErr  error
	destroyErr error
}

func (f *fakeConn) PeerID() string       { return f.spec.PeerID }
func (f *fakeConn) ConnectionID() string { return f.spec.ConnectionID }

func (f *fakeConn) AttachStream(stream Stream, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = append(f.attached, name+"="+stream.ID())
	return nil
}

func (f *fakeConn) HandleSignal(data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, data)
	return nil
}

func (f *fakeConn) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return f.destroyErr
}

func (f *fakeConn) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *fakeConn) attachments() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attached...)
}

func (f *fakeConn) received() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.signals...)
}

type fakeTransport struct {
	mu         sync.Mutex
	conns      []*fakeConn
	failOpen   map[string]bool
	attachErr  map[string]error
	destroyErr map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failOpen:   make(map[string]bool),
		attachErr:  make(map[string]error),
		destroyErr: make(map[string]error),
	}
}

func (t *fakeTransport) Open(spec PeerSpec) (PeerConnection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failOpen[spec.PeerID] {
		return nil, errors.New("no route to peer")
	}
	conn := &fakeConn{
		spec:       spec,
		attachErr:  t.attachErr[spec.PeerID],
		destroyErr: t.destroyErr[spec.PeerID],
	}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) opened() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeConn(nil), t.conns...)
}

func (t *fakeTransport) last() *fakeConn {
	conns := t.opened()
	return conns[len(conns)-1]
}
