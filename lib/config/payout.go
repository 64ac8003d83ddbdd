package config

import (
	"errors"
	"fmt"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/address"
)

var (
	ErrNoAssets        = errors.New("config.Assets: at least one asset is required")
	ErrDuplicateAsset  = errors.New("config.Assets: asset names must be unique")
	ErrInvalidAsset    = errors.New("config.Asset: invalid asset")
	ErrBadTokenAddress = errors.New("config.Asset: tokenAddress is not a contract on the payout network")
	ErrInvalidPayout   = errors.New("config.Payout: invalid payout configuration")
)

// maxAssetDecimals keeps 10^decimals well inside a uint256.
const maxAssetDecimals = 36

// Payout holds settings shared by every asset.
type Payout struct {
	// Network selects the chain family recipients and token contracts belong
	// to.
	Network address.Network `json:"network"`
	// MaxBalance declines recipients already holding at least this much of the
	// asset. Zero disables the check.
	MaxBalance float64 `json:"maxBalance"`
}

func (Payout) Default() Payout {
	return Payout{
		Network:    address.Mavryk,
		MaxBalance: 6000,
	}
}

func (p Payout) Valid() error {
	var errs []error

	if err := p.Network.Valid(); err != nil {
		errs = append(errs, err)
	}

	if p.MaxBalance < 0 {
		errs = append(errs, fmt.Errorf("%w: maxBalance %v must not be negative", ErrOutOfRange, p.MaxBalance))
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPayout, errors.Join(errs...))
	}

	return nil
}

// Asset is one thing the faucet can hand out.
type Asset struct {
	// Name is the selector clients send as "token".
	Name string `json:"name"`
	// TokenAddress is the token contract of the asset, a KT1 address on
	// Mavryk. Empty means the chain's native coin.
	TokenAddress string `json:"tokenAddress,omitempty"`
	TokenID      int64  `json:"tokenId,omitempty"`
	Decimals     int    `json:"decimals"`
	// Amount overrides the requested amount when set.
	Amount float64 `json:"amount,omitempty"`
}

// Native reports whether the asset is the chain's own coin.
func (a Asset) Native() bool {
	return a.TokenAddress == ""
}

// Valid checks the asset, including that its contract lives on network.
func (a Asset) Valid(network address.Network) error {
	var errs []error

	if a.Name == "" {
		errs = append(errs, fmt.Errorf("%w: name", ErrMissingValue))
	}

	if !a.Native() {
		if err := network.Contract(a.TokenAddress); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrBadTokenAddress, err))
		}
	}

	if a.TokenID < 0 {
		errs = append(errs, fmt.Errorf("%w: tokenId %d must not be negative", ErrOutOfRange, a.TokenID))
	}

	if a.Decimals < 0 || a.Decimals > maxAssetDecimals {
		errs = append(errs, fmt.Errorf("%w: decimals %d must be between 0 and %d", ErrOutOfRange, a.Decimals, maxAssetDecimals))
	}

	if a.Amount < 0 {
		errs = append(errs, fmt.Errorf("%w: amount %v must not be negative", ErrOutOfRange, a.Amount))
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidAsset, a.Name, errors.Join(errs...))
	}

	return nil
}

type Assets []Asset

func (as Assets) Valid(network address.Network) error {
	if len(as) == 0 {
		return ErrNoAssets
	}

	var errs []error
	seen := map[string]struct{}{}

	for _, a := range as {
		if err := a.Valid(network); err != nil {
			errs = append(errs, err)
		}

		if _, ok := seen[a.Name]; ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateAsset, a.Name))
		}
		seen[a.Name] = struct{}{}
	}

	return errors.Join(errs...)
}

// Find returns the asset called name.
func (as Assets) Find(name string) (Asset, bool) {
	for _, a := range as {
		if a.Name == name {
			return a, true
		}
	}

	return Asset{}, false
}

// Names lists the configured asset selectors in file order.
func (as Assets) Names() []string {
	result := make([]string, 0, len(as))
	for _, a := range as {
		result = append(result, a.Name)
	}
	return result
}

// Captcha toggles captcha checks on challenge creation. The shared secret and
// the verification endpoint are flags so they never land in a config file.
type Captcha struct {
	Enabled bool `json:"enabled"`
}

func (Captcha) Default() Captcha {
	return Captcha{}
}

func (c Captcha) Valid() error {
	return nil
}
