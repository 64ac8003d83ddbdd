package config

import (
	"errors"
	"testing"
)

func TestHTTPValid(t *testing.T) {
	for _, tt := range []struct {
		name  string
		input HTTP
		err   error
	}{
		{
			name:  "defaults",
			input: (HTTP{}).Default(),
		},
		{
			name: "rate limiting off",
			input: HTTP{
				RateLimit: RateLimit{},
			},
		},
		{
			name: "negative rate",
			input: HTTP{
				RateLimit: RateLimit{RequestsPerSecond: -1},
			},
			err: ErrOutOfRange,
		},
		{
			name: "rate without burst",
			input: HTTP{
				RateLimit: RateLimit{RequestsPerSecond: 1, IPv4Prefix: 32, IPv6Prefix: 64},
			},
			err: ErrOutOfRange,
		},
		{
			name: "ipv6 prefix too long",
			input: HTTP{
				RateLimit: RateLimit{RequestsPerSecond: 1, Burst: 1, IPv4Prefix: 32, IPv6Prefix: 129},
			},
			err: ErrOutOfRange,
		},
		{
			name: "deny list",
			input: HTTP{
				DenyCIDRs: []string{"10.0.0.0/8", "2001:db8::/32"},
			},
		},
		{
			name: "bad cidr",
			input: HTTP{
				DenyCIDRs: []string{"10.0.0.0"},
			},
			err: ErrBadCIDR,
		},
		{
			name: "user agent deny list",
			input: HTTP{
				DenyUserAgents: []string{"(?i)python-requests", "^curl/"},
			},
		},
		{
			name: "bad user agent regex",
			input: HTTP{
				DenyUserAgents: []string{"a(b"},
			},
			err: ErrBadUserAgentRegex,
		},
		{
			name: "empty user agent regex",
			input: HTTP{
				DenyUserAgents: []string{""},
			},
			err: ErrBadUserAgentRegex,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.input.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestDenyPrefixesAreMasked(t *testing.T) {
	got := HTTP{DenyCIDRs: []string{"10.1.2.3/8"}}.DenyPrefixes()
	if len(got) != 1 || got[0].String() != "10.0.0.0/8" {
		t.Errorf("wanted [10.0.0.0/8], got: %v", got)
	}
}
