package swarm

import (
	"encoding/json"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/Bluehatcoders/jam/internal/signaling"
)

// Options configures a session. Configure merges only non-empty fields.
type Options struct {
	URL    string
	Room   string
	PeerID string

	// Sign and Verify authenticate shared state. Either may be nil.
	Sign   func(state json.RawMessage) (json.RawMessage, error)
	Verify func(signed json.RawMessage, peerID string) (json.RawMessage, bool)

	// ConnectionConfig is handed to the PeerTransport in every PeerSpec.
	ConnectionConfig any

	// Debug logs every causal step at info level.
	Debug bool
}

func (o *Options) merge(n Options) {
	if n.URL != "" {
		o.URL = n.URL
	}
	if n.Room != "" {
		o.Room = n.Room
	}
	if n.PeerID != "" {
		o.PeerID = n.PeerID
	}
	if n.Sign != nil {
		o.Sign = n.Sign
	}
	if n.Verify != nil {
		o.Verify = n.Verify
	}
	if n.ConnectionConfig != nil {
		o.ConnectionConfig = n.ConnectionConfig
	}
	if n.Debug {
		o.Debug = true
	}
}

// Option customizes a Coordinator at construction.
type Option func(*Coordinator)

// WithChannelOpener replaces signaling.Open.
func WithChannelOpener(open func(signaling.Config) signaling.Channel) Option {
	return func(c *Coordinator) {
		c.open = open
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

func WithBackoff(b BackoffPolicy) Option {
	return func(c *Coordinator) {
		c.backoff = b
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

func WithBus(bus *Bus) Option {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

func openHub(cfg signaling.Config) signaling.Channel {
	return signaling.Open(cfg)
}
