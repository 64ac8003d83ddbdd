// Package faucet holds the version and process-wide constants of the faucet
// backend.
package faucet

import (
	"errors"
	"time"
)

// Version is set at link time with -ldflags "-X github.com/mavryk-network/mavryk-faucet-backend.Version=...".
var Version = "devel"

const (
	// ChallengeKeyPrefix namespaces per-address challenge sessions in the store.
	ChallengeKeyPrefix = "address"

	// DefaultSessionTTL is how long an untouched challenge session lives.
	DefaultSessionTTL = 1800 * time.Second
)

var (
	ErrMisconfiguration = errors.New("[unexpected] faucet is misconfigured")
)
