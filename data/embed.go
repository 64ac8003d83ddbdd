// Package data holds files compiled into the faucet binary.
package data

import _ "embed"

// DefaultConfig is the configuration used when no -config file is given.
//
//go:embed faucet.yaml
var DefaultConfig []byte
