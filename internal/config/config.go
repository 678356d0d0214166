package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default configuration values (production)
const (
	DefaultDomain    = "jam.systems"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultTURN      = "" // Optional, empty by default
	DefaultRelayAddr = ":8080"
)

// Config holds application configuration
type Config struct {
	// Domain is the signaling server domain
	Domain string

	// URL is the signaling websocket endpoint, constructed from Domain unless set
	URL string

	// Room and PeerID identify this participant in the swarm
	Room   string
	PeerID string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool

	// Debug turns on causal logging in the swarm coordinator
	Debug bool

	// RelayAddr is the listen address of `jam relay`
	RelayAddr string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain     string
	URL        string
	Room       string
	PeerID     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Debug      bool
	RelayAddr  string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := pick(opts.Domain, "DOMAIN", DefaultDomain)

	url := pick(opts.URL, "SIGNAL_URL", "")
	if url == "" {
		url = fmt.Sprintf("wss://%s/_/signal/ws", domain)
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("signaling url must use ws:// or wss://, got %q", url)
	}

	cfg := &Config{
		Domain:     domain,
		URL:        url,
		Room:       pick(opts.Room, "ROOM", ""),
		PeerID:     pick(opts.PeerID, "PEER_ID", ""),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay || envBool("FORCE_RELAY"),
		Debug:      opts.Debug || envBool("DEBUG"),
		RelayAddr:  pick(opts.RelayAddr, "RELAY_ADDR", DefaultRelayAddr),
	}
	return cfg, nil
}

// pick returns the flag value, else the environment value, else the default.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envBool(env string) bool {
	v, ok := os.LookupEnv(env)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("turn:%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
