package peer

import (
	"time"

	"github.com/Bluehatcoders/jam/internal/version"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	dataChannelLabel = "swarm"
	pingInterval     = 5 * time.Second
)

// Data channel message types.
const (
	MessageHello = "hello"
	MessagePing  = "ping"
	MessagePong  = "pong"
)

// Message represents all data channel messages between two peers.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HelloPayload is sent by both sides when the channel opens.
type HelloPayload struct {
	ClientType string `msgpack:"clientType"`
	Version    string `msgpack:"version"`
}

// PingPayload carries the sender's clock; pongs echo it back.
type PingPayload struct {
	Sent int64 `msgpack:"sent"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

func (p *Peer) setChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.log.Debug("data channel open", "label", dc.Label())
		p.sendMessage(dc, MessageHello, HelloPayload{
			ClientType: version.ClientType,
			Version:    version.Version,
		})
		go p.pinger(dc)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var m Message
		if err := msgpack.Unmarshal(msg.Data, &m); err != nil {
			p.log.Debug("bad data channel message", "error", err)
			return
		}
		p.handleMessage(dc, m)
	})
}

func (p *Peer) handleMessage(dc *webrtc.DataChannel, m Message) {
	switch m.Type {
	case MessageHello:
		var hello HelloPayload
		if err := m.DecodePayload(&hello); err != nil {
			return
		}
		p.mu.Lock()
		p.hello = hello
		p.mu.Unlock()
		p.log.Debug("hello", "client", hello.ClientType, "version", hello.Version)

	case MessagePing:
		var ping PingPayload
		if err := m.DecodePayload(&ping); err != nil {
			return
		}
		p.sendMessage(dc, MessagePong, ping)

	case MessagePong:
		var pong PingPayload
		if err := m.DecodePayload(&pong); err != nil {
			return
		}
		if rtt := time.Now().UnixNano() - pong.Sent; rtt > 0 {
			p.rtt.Store(rtt)
		}
	}
}

func (p *Peer) pinger(dc *webrtc.DataChannel) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		p.sendMessage(dc, MessagePing, PingPayload{Sent: time.Now().UnixNano()})
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
	}
}

func (p *Peer) sendMessage(dc *webrtc.DataChannel, t string, payload any) {
	if dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	m, err := NewMessage(t, payload)
	if err != nil {
		return
	}
	b, err := msgpack.Marshal(m)
	if err != nil {
		return
	}
	if err := dc.Send(b); err != nil {
		p.log.Debug("data channel send failed", "type", t, "error", err)
	}
}
