package peer

import (
	"github.com/Bluehatcoders/jam/internal/config"
	"github.com/pion/webrtc/v4"
)

// ICEConfiguration builds the peer connection configuration from the
// STUN and TURN settings in cfg.
func ICEConfiguration(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	// Relay-only when forced or when the network looks like a VPN/CGNAT.
	// Otherwise try direct first and fall back to TURN.
	policy := webrtc.ICETransportPolicyAll
	if cfg.ShouldForceRelay() {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}
