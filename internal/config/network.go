package config

import (
	"net"
	"strings"
)

// Interface name fragments that point at tunnels, VPN adapters or WARP.
var tunnelHints = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// cgnat is 100.64.0.0/10, used by Carrier Grade NAT, Tailscale and Cloudflare WARP.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// RestrictedNetwork reports whether the host looks like it sits behind a VPN
// or CGNAT, where direct ICE candidates rarely work and TURN should be forced.
// The second return value names the interface that triggered the decision.
func RestrictedNetwork() (bool, string) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isTunnelName(iface.Name) {
			return true, iface.Name
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if inCGNAT(addr) {
				return true, iface.Name
			}
		}
	}
	return false, ""
}

// ShouldForceRelay combines the explicit flag with network detection. Relay is
// only forced when TURN servers are actually configured.
func (c *Config) ShouldForceRelay() bool {
	if c.GetTURNServers() == nil {
		return false
	}
	if c.ForceRelay {
		return true
	}
	restricted, _ := RestrictedNetwork()
	return restricted
}

func isTunnelName(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range tunnelHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

func inCGNAT(addr net.Addr) bool {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	return ip != nil && cgnat.Contains(ip)
}
