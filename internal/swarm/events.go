package swarm

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// EventKind enumerates coordinator notifications.
type EventKind int

const (
	EventNewPeer EventKind = iota + 1
	EventPeerStateChanged
	EventPeerEvent
	EventAnonymous
	EventStreamAdded
	EventStreamRemoved
	EventPeerRemoved
	EventConnectionChanged
)

func (k EventKind) String() string {
	switch k {
	case EventNewPeer:
		return "new-peer"
	case EventPeerStateChanged:
		return "peer-state-changed"
	case EventPeerEvent:
		return "peer-event"
	case EventAnonymous:
		return "anonymous"
	case EventStreamAdded:
		return "stream-added"
	case EventStreamRemoved:
		return "stream-removed"
	case EventPeerRemoved:
		return "peer-removed"
	case EventConnectionChanged:
		return "connection-changed"
	default:
		return "unknown"
	}
}

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind   EventKind
	PeerID string

	// Data is the peer state, the peer event payload or the anonymous payload.
	Data json.RawMessage

	Stream    *RemoteStream
	Connected bool
}

const defaultSubscriptionBuffer = 64

// Bus fans events out to subscribers. Emit never blocks: a subscriber whose
// buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Int64
}

func NewBus() *Bus {
	return NewBusWithBuffer(defaultSubscriptionBuffer)
}

func NewBusWithBuffer(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	out     chan Event
	kinds   map[EventKind]bool
	bus     *Bus
	once    sync.Once
	dropped atomic.Int64
}

// Subscribe registers for the given kinds, or for every kind when none are
// given. Each event is delivered to a subscription at most once: events that
// arrive while C is full are lost and counted in Dropped, so a consumer that
// must not miss a peer should reconcile against the coordinator's readers.
func (b *Bus) Subscribe(kinds ...EventKind) *Subscription {
	out := make(chan Event, b.buffer)
	s := &Subscription{C: out, out: out, bus: b}
	if len(kinds) > 0 {
		s.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		if s.kinds != nil && !s.kinds[e.Kind] {
			continue
		}
		select {
		case s.out <- e:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Dropped is the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Dropped is the number of events this subscription missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.out)
		s.bus.mu.Unlock()
	})
}
