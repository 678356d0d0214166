package relay

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Bluehatcoders/jam/internal/logging"
	"github.com/Bluehatcoders/jam/internal/signaling"
)

// Hub is the central brain of the relay.
// It manages all active rooms and clients from a single goroutine.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]bool

	register     chan *Client
	unregisterCh chan *Client
	inbound      chan *Message
	done         chan struct{}

	metrics *Metrics
	log     *slog.Logger
}

// NewHub creates a new Hub. A nil metrics value gets unregistered collectors.
func NewHub(metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		rooms:        make(map[string]*Room),
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregisterCh: make(chan *Client),
		inbound:      make(chan *Message),
		done:         make(chan struct{}),
		metrics:      metrics,
		log:          logging.Component("relay"),
	}
}

// Register hands a new connection to the hub. It reports false once the hub
// has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterCh <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(m *Message) bool {
	select {
	case h.inbound <- m:
		return true
	case <-h.done:
		return false
	}
}

// Run processes registrations and frames until ctx is cancelled.
// This is the single goroutine that owns rooms and clients.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.metrics.Clients.Inc()
			h.log.Debug("client registered", "remote", c.remote())

		case c := <-h.unregisterCh:
			if h.clients[c] {
				h.log.Debug("client unregistered", "remote", c.remote(), "peer", c.PeerID)
				h.drop(c)
			}

		case m := <-h.inbound:
			if h.clients[m.client] {
				h.handle(m)
			}
		}
	}
}

func (h *Hub) handle(m *Message) {
	h.metrics.Frames.WithLabelValues(m.Type).Inc()

	switch m.Type {
	case signaling.FrameCreateRoom:
		roomID := h.generateRoomID()
		h.log.Info("room id issued", "room", roomID)
		h.send(m.client, &signaling.Frame{Type: signaling.FrameRoomCreated, RoomID: roomID})

	case signaling.FrameJoinRoom:
		h.join(m)

	case signaling.FrameSubscribe:
		room := h.roomOf(m)
		if room == nil {
			return
		}
		room.subscribe(m.client, m.Topic)

	case signaling.FramePublish:
		h.publish(m)

	default:
		h.log.Debug("unknown frame type", "type", m.Type)
		h.reject(m, fmt.Sprintf("unknown frame type %q", m.Type))
	}
}

func (h *Hub) join(m *Message) {
	if m.RoomID == "" {
		h.reject(m, "room id required")
		return
	}

	c := m.client
	if c.RoomID != "" {
		h.leave(c)
	}

	room, ok := h.rooms[m.RoomID]
	if !ok {
		room = newRoom(m.RoomID)
		h.rooms[room.ID] = room
		h.metrics.Rooms.Inc()
		h.log.Info("room opened", "room", room.ID)
	}

	room.Clients[c] = true
	c.RoomID = room.ID
	c.PeerID = m.PeerID
	c.ClientType = m.ClientType

	h.log.Debug("client joined", "room", room.ID, "peer", c.PeerID, "type", c.ClientType)
	h.send(c, &signaling.Frame{Type: signaling.FrameJoinSuccess, RoomID: room.ID, PeerID: c.PeerID})
}

// publish fans a frame out to the topic's subscribers except the sender,
// then acks it.
func (h *Hub) publish(m *Message) {
	room := h.roomOf(m)
	if room == nil {
		return
	}

	event := &signaling.Frame{
		Type:      signaling.FrameEvent,
		Topic:     m.Topic,
		PeerID:    m.client.PeerID,
		Anonymous: m.Anonymous,
		Payload:   m.Payload,
	}
	for c := range room.Topics[m.Topic] {
		if c != m.client {
			h.send(c, event)
		}
	}

	if m.ID != "" {
		h.send(m.client, &signaling.Frame{Type: signaling.FrameAck, ID: m.ID})
	}
}

// roomOf returns the sender's room, or rejects the frame.
func (h *Hub) roomOf(m *Message) *Room {
	room, ok := h.rooms[m.client.RoomID]
	if !ok {
		h.reject(m, "you must join a room first")
		return nil
	}
	return room
}

func (h *Hub) reject(m *Message, reason string) {
	h.send(m.client, &signaling.Frame{
		Type:  signaling.FrameError,
		ID:    m.ID,
		Topic: m.Topic,
		Error: reason,
	})
}

// send queues f for c, dropping c if its queue is full.
func (h *Hub) send(c *Client, f *signaling.Frame) {
	if !h.clients[c] {
		return
	}
	select {
	case c.Send <- f:
	default:
		h.log.Warn("send queue full, dropping client", "remote", c.remote(), "peer", c.PeerID)
		h.metrics.Dropped.Inc()
		h.drop(c)
	}
}

func (h *Hub) leave(c *Client) {
	room, ok := h.rooms[c.RoomID]
	c.RoomID = ""
	if !ok {
		return
	}
	room.remove(c)
	if room.empty() {
		delete(h.rooms, room.ID)
		h.metrics.Rooms.Dec()
		h.log.Info("room closed", "room", room.ID)
	}
}

// drop forgets c and closes its send channel, which stops WritePump.
func (h *Hub) drop(c *Client) {
	h.leave(c)
	delete(h.clients, c)
	h.metrics.Clients.Dec()
	close(c.Send)
}

// generateRoomID creates a random, memorable room ID using word combinations.
// Format: word-word-word-word (e.g., "kitten-waffle-stardust-happy")
// Randomly picks 4 words from distinct word lists.
func (h *Hub) generateRoomID() string {
	allWords := [][]string{animals, dishes, names, randomWords, adjectives, extras}

	for {
		words := make([]string, 0, 4)
		used := make(map[int]bool)
		for len(words) < 4 {
			i := randomIndex(len(allWords))
			if used[i] {
				continue
			}
			used[i] = true
			list := allWords[i]
			words = append(words, list[randomIndex(len(list))])
		}

		id := fmt.Sprintf("%s-%s-%s-%s", words[0], words[1], words[2], words[3])
		if _, ok := h.rooms[id]; !ok {
			return id
		}
	}
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("relay: random index: %v", err))
	}
	return int(n.Int64())
}
