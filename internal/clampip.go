package internal

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClampIP widens addr to the network that should share one rate limit
// bucket. IPv4-mapped IPv6 addresses are treated as IPv4.
func ClampIP(addr netip.Addr, v4Bits, v6Bits int) (netip.Prefix, bool) {
	switch {
	case addr.Is4():
		result, err := addr.Prefix(v4Bits)
		if err != nil {
			return netip.Prefix{}, false
		}
		return result, true

	case addr.Is4In6():
		// Extract the IPv4 address from IPv4-mapped IPv6 and clamp it
		ipv4 := addr.Unmap()
		result, err := ipv4.Prefix(v4Bits)
		if err != nil {
			return netip.Prefix{}, false
		}
		return result, true

	case addr.Is6():
		result, err := addr.WithZone("").Prefix(v6Bits)
		if err != nil {
			return netip.Prefix{}, false
		}
		return result, true

	default:
		return netip.Prefix{}, false
	}
}

// ClientAddr is the address of the client behind r. When header is set and
// present on the request, its first comma separated entry wins over the
// socket address.
func ClientAddr(r *http.Request, header string) (netip.Addr, bool) {
	if header != "" {
		if val := r.Header.Get(header); val != "" {
			first, _, _ := strings.Cut(val, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr.Unmap(), true
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}

	return addr.Unmap(), true
}
