package internal

import (
	"fmt"
	"net"
	"strings"
)

// proxyList holds the networks whose X-Forwarded-For header is believed.
type proxyList []*net.IPNet

// parseProxies accepts bare addresses and CIDR ranges.
func parseProxies(entries []string) (proxyList, error) {
	var list proxyList
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			list = append(list, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		list = append(list, network)
	}
	return list, nil
}

func (list proxyList) trusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range list {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
