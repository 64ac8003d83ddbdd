package config

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/checker/headermatches"
)

var (
	ErrInvalidHTTPConfig = errors.New("config.HTTP: invalid http configuration")
	ErrBadCIDR           = errors.New("config.HTTP: denyCIDRs entry is not a CIDR range")
	ErrBadUserAgentRegex = errors.New("config.HTTP: denyUserAgents entry is not a valid regular expression")
)

// HTTP configures the public API surface.
type HTTP struct {
	// AuthorizedOrigin is the only origin CORS lets through. Empty allows any.
	AuthorizedOrigin string `json:"authorizedOrigin,omitempty"`

	RateLimit RateLimit `json:"rateLimit"`

	DenyCIDRs []string `json:"denyCIDRs,omitempty"`

	// DenyUserAgents are regular expressions over the User-Agent header.
	DenyUserAgents []string `json:"denyUserAgents,omitempty"`

	// ClientIPHeader names a header set by a trusted reverse proxy that
	// carries the client address, such as X-Real-Ip.
	ClientIPHeader string `json:"clientIPHeader,omitempty"`
}

func (HTTP) Default() HTTP {
	return HTTP{
		RateLimit: RateLimit{
			RequestsPerSecond: 2,
			Burst:             10,
			IPv4Prefix:        32,
			IPv6Prefix:        64,
		},
	}
}

// RateLimit is a per-client-address token bucket. A zero rate disables it.
type RateLimit struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
	// Clients in the same network of this size share a bucket.
	IPv4Prefix int `json:"ipv4Prefix"`
	IPv6Prefix int `json:"ipv6Prefix"`
}

func (h HTTP) Valid() error {
	var errs []error

	if h.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("%w: rateLimit.requestsPerSecond %v must not be negative", ErrOutOfRange, h.RateLimit.RequestsPerSecond))
	}

	if h.RateLimit.RequestsPerSecond > 0 && h.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("%w: rateLimit.burst %d must be at least 1", ErrOutOfRange, h.RateLimit.Burst))
	}

	if h.RateLimit.RequestsPerSecond > 0 {
		if h.RateLimit.IPv4Prefix < 1 || h.RateLimit.IPv4Prefix > 32 {
			errs = append(errs, fmt.Errorf("%w: rateLimit.ipv4Prefix %d must be between 1 and 32", ErrOutOfRange, h.RateLimit.IPv4Prefix))
		}

		if h.RateLimit.IPv6Prefix < 1 || h.RateLimit.IPv6Prefix > 128 {
			errs = append(errs, fmt.Errorf("%w: rateLimit.ipv6Prefix %d must be between 1 and 128", ErrOutOfRange, h.RateLimit.IPv6Prefix))
		}
	}

	for _, cidr := range h.DenyCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %w", ErrBadCIDR, cidr, err))
		}
	}

	for _, rex := range h.DenyUserAgents {
		if err := headermatches.ValidUserAgent(rex); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %w", ErrBadUserAgentRegex, rex, err))
		}
	}

	if len(errs) != 0 {
		return errors.Join(ErrInvalidHTTPConfig, errors.Join(errs...))
	}

	return nil
}

// DenyPrefixes parses DenyCIDRs. Only call it on a config that passed Valid.
func (h HTTP) DenyPrefixes() []netip.Prefix {
	result := make([]netip.Prefix, 0, len(h.DenyCIDRs))

	for _, cidr := range h.DenyCIDRs {
		if pfx, err := netip.ParsePrefix(cidr); err == nil {
			result = append(result, pfx.Masked())
		}
	}
	return result
}
