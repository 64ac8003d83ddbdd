// Package remoteaddress matches requests by the network they come from.
package remoteaddress

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/gaissmai/bart"
	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/checker"
)

var (
	ErrNoRemoteAddresses = errors.New("remoteaddress: no remote addresses defined")
	ErrInvalidCIDR       = errors.New("remoteaddress: invalid CIDR")
)

// Valid reports whether every entry of cidrs parses.
func Valid(cidrs []string) error {
	var errs []error

	if len(cidrs) == 0 {
		errs = append(errs, ErrNoRemoteAddresses)
	}

	for _, cidr := range cidrs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("%w: cidr %q is invalid: %w", ErrInvalidCIDR, cidr, err))
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", checker.ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

type RemoteAddrChecker struct {
	prefixTable *bart.Lite
	// header is a trusted proxy header carrying the client address.
	header string
}

var _ checker.Interface = (*RemoteAddrChecker)(nil)

// New matches clients inside any of prefixes. header is passed to
// internal.ClientAddr.
func New(prefixes []netip.Prefix, header string) *RemoteAddrChecker {
	table := new(bart.Lite)
	for _, pfx := range prefixes {
		table.Insert(pfx)
	}

	return &RemoteAddrChecker{
		prefixTable: table,
		header:      header,
	}
}

func (rac *RemoteAddrChecker) Check(r *http.Request) (bool, error) {
	addr, ok := internal.ClientAddr(r, rac.header)
	if !ok {
		return false, fmt.Errorf("%w: remote address %q", checker.ErrNoClientAddr, r.RemoteAddr)
	}

	return rac.prefixTable.Contains(addr), nil
}
