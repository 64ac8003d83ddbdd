// Package address validates the account and contract addresses of the chains
// the faucet can pay out on.
package address

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownNetwork = errors.New("address: unknown network")
	ErrInvalid        = errors.New("address: invalid address")
	ErrBadChecksum    = errors.New("address: base58 checksum mismatch")
)

// Network names the chain family payouts happen on.
type Network string

const (
	Mavryk Network = "mavryk"
	EVM    Network = "evm"
)

// Networks lists every supported network.
func Networks() []Network {
	return []Network{Mavryk, EVM}
}

func (n Network) Valid() error {
	switch n {
	case Mavryk, EVM:
		return nil
	default:
		return fmt.Errorf("%w: %q, known networks: %v", ErrUnknownNetwork, string(n), Networks())
	}
}

// Recipient checks that addr is an account that can receive a payout and
// returns its canonical form, which is also the identity its challenge
// session is keyed by. Mavryk addresses are case sensitive and returned
// untouched, EVM addresses come back checksummed.
func (n Network) Recipient(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalid)
	}

	switch n {
	case Mavryk:
		if _, err := decodeAny(addr, hashLength, implicitPrefixes...); err != nil {
			return "", err
		}
		return addr, nil
	case EVM:
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("%w: %q is not a hex address", ErrInvalid, addr)
		}
		return common.HexToAddress(addr).Hex(), nil
	default:
		return "", n.Valid()
	}
}

// Contract checks that addr is a token contract on n.
func (n Network) Contract(addr string) error {
	switch n {
	case Mavryk:
		_, err := decodeAny(addr, hashLength, PrefixKT1)
		return err
	case EVM:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %q is not a hex address", ErrInvalid, addr)
		}
		return nil
	default:
		return n.Valid()
	}
}
