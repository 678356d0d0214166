package signaling

import (
	"encoding/json"
)

// handle routes one frame from the relay. It runs on the hub's read
// goroutine, so subscribers see events in arrival order.
func (h *Hub) handle(f *Frame) {
	switch f.Type {

	case FrameEvent:
		if f.Anonymous {
			h.deliverAnonymous(f)
		} else {
			h.deliver(f)
		}

	case FrameAck:
		h.resolve(f.ID, nil)

	case FrameError:
		h.handleError(f)

	case FrameJoinSuccess:
		h.log.Debug("joined room", "peer", h.cfg.PeerID)

	default:
		h.log.Debug("ignoring frame", "type", f.Type)
	}
}

func (h *Hub) deliver(f *Frame) {
	h.mu.Lock()
	handlers := append([]func(Payload){}, h.subs[f.Topic]...)
	h.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	var p Payload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		h.log.Warn("malformed payload", "topic", f.Topic, "error", err)
		return
	}
	if h.cfg.Auth != nil {
		verifyPayload(h.cfg.Auth, &p, h.log)
	}

	for _, fn := range handlers {
		fn(p)
	}
}

func (h *Hub) deliverAnonymous(f *Frame) {
	h.mu.Lock()
	handlers := append([]func(json.RawMessage){}, h.anon[f.Topic]...)
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(f.Payload)
	}
}

func (h *Hub) handleError(f *Frame) {
	err := &RemoteError{Op: f.Topic, Message: f.Error}
	if f.ID != "" {
		h.resolve(f.ID, err)
		return
	}
	h.log.Warn("relay error", "error", err)
}
