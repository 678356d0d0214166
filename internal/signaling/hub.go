package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bluehatcoders/jam/internal/version"
	"github.com/google/uuid"
)

const dialTimeout = 15 * time.Second

// Hub is a Channel backed by a relay WebSocket connection.
type Hub struct {
	cfg    Config
	client *Client
	log    *slog.Logger
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    map[string][]func(Payload)
	anon    map[string][]func(json.RawMessage)
	pending map[string]*pendingAck
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

type pendingAck struct {
	ch    chan error
	timer *time.Timer
}

var _ Channel = (*Hub)(nil)

// Open starts connecting to the relay and joins cfg.Room. It does not block:
// frames sent before the connection is up are queued.
func Open(cfg Config) *Hub {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:     cfg,
		client:  NewClient(cfg.URL),
		log:     log.With("room", cfg.Room),
		cancel:  cancel,
		subs:    make(map[string][]func(Payload)),
		anon:    make(map[string][]func(json.RawMessage)),
		pending: make(map[string]*pendingAck),
		done:    make(chan struct{}),
	}

	h.client.Send(&Frame{
		Type:       FrameJoinRoom,
		RoomID:     cfg.Room,
		PeerID:     cfg.PeerID,
		ClientType: version.ClientType,
	})

	go h.run(ctx)
	return h
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	err := h.client.Connect(dctx)
	cancel()
	if err != nil {
		h.log.Error("relay connection failed", "url", h.cfg.URL, "error", err)
		h.fail(err)
		return
	}
	h.log.Debug("relay connected", "url", h.cfg.URL)

	for f := range h.client.Incoming() {
		h.handle(f)
	}

	h.fail(ErrConnectionLost)
}

// Done is closed once the relay connection has ended for any reason.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Err reports why the hub stopped, or nil while it is running.
func (h *Hub) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Hub) Broadcast(topic string, p Payload) <-chan error {
	if h.cfg.Auth != nil {
		if err := signPayload(h.cfg.Auth, &p); err != nil {
			return resolved(fmt.Errorf("sign shared state: %w", err))
		}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return resolved(err)
	}
	return h.publish(topic, raw, false)
}

// BroadcastAnonymous publishes raw on topic to anonymous subscribers.
func (h *Hub) BroadcastAnonymous(topic string, raw json.RawMessage) <-chan error {
	return h.publish(topic, raw, true)
}

func (h *Hub) publish(topic string, raw json.RawMessage, anonymous bool) <-chan error {
	ack := make(chan error, 1)
	id := uuid.NewString()

	h.mu.Lock()
	if h.err != nil {
		err := h.err
		h.mu.Unlock()
		ack <- err
		return ack
	}
	h.pending[id] = &pendingAck{
		ch:    ack,
		timer: time.AfterFunc(h.cfg.AckTimeout, func() { h.resolve(id, ErrAckTimeout) }),
	}
	h.mu.Unlock()

	err := h.client.Send(&Frame{
		Type:      FramePublish,
		ID:        id,
		Topic:     topic,
		Anonymous: anonymous,
		Payload:   raw,
	})
	if err != nil {
		h.resolve(id, err)
	}
	return ack
}

func (h *Hub) Subscribe(topic string, handler func(Payload)) {
	h.mu.Lock()
	first := len(h.subs[topic]) == 0 && len(h.anon[topic]) == 0
	h.subs[topic] = append(h.subs[topic], handler)
	h.mu.Unlock()

	if first {
		h.subscribe(topic)
	}
}

func (h *Hub) SubscribeAnonymous(topic string, handler func(json.RawMessage)) {
	h.mu.Lock()
	first := len(h.subs[topic]) == 0 && len(h.anon[topic]) == 0
	h.anon[topic] = append(h.anon[topic], handler)
	h.mu.Unlock()

	if first {
		h.subscribe(topic)
	}
}

func (h *Hub) subscribe(topic string) {
	if err := h.client.Send(&Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
		h.log.Warn("subscribe failed", "topic", topic, "error", err)
	}
}

// Close leaves the room. Pending broadcasts fail with ErrClosed.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		h.fail(ErrClosed)
		h.cancel()
		h.client.Close()
	})
	return nil
}

// fail records the first terminal error and fails every pending ack with it.
func (h *Hub) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	err = h.err
	pending := h.pending
	h.pending = make(map[string]*pendingAck)
	h.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.ch <- err
	}
}

func (h *Hub) resolve(id string, err error) {
	h.mu.Lock()
	p, ok := h.pending[id]
	delete(h.pending, id)
	h.mu.Unlock()

	if !ok {
		return
	}
	p.timer.Stop()
	p.ch <- err
}

func resolved(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}
