// Package config is the on-disk configuration of the faucet. Every block has a
// Valid method that reports all of its problems at once.
package config

import (
	"errors"
	"fmt"
	"io"

	"sigs.k8s.io/yaml"
)

var (
	ErrMissingValue  = errors.New("config: missing value")
	ErrInvalidConfig = errors.New("config: configuration is invalid")
	ErrCantReadFile  = errors.New("config: can't read configuration file")
)

// Config is the whole faucet configuration file.
type Config struct {
	Challenges Challenges `json:"challenges"`
	Captcha    Captcha    `json:"captcha"`
	Payout     Payout     `json:"payout"`
	Assets     []Asset    `json:"assets"`
	Store      *Store     `json:"store"`
	Logging    *Logging   `json:"logging"`
	HTTP       HTTP       `json:"http"`
}

// Default is what the faucet runs with when the file leaves a block out.
func Default() *Config {
	return &Config{
		Challenges: (Challenges{}).Default(),
		Captcha:    (Captcha{}).Default(),
		Payout:     (Payout{}).Default(),
		Assets:     DefaultAssets(),
		Store:   (Store{}).Default(),
		Logging: (Logging{}).Default(),
		HTTP:    (HTTP{}).Default(),
	}
}

// DefaultAssets are the tokens handed out on Mavryk: the governance token,
// a USDT bridge and the native coin.
func DefaultAssets() []Asset {
	return []Asset{
		{Name: "mvn", TokenAddress: "KT1PBrfUaHoe21a7J4gAUZJT4m3VJTkaEVqY", Decimals: 9},
		{Name: "usdt", TokenAddress: "KT1A5hFGc8uGQLZhkpSgTieDd1jEReZkZ65i", Decimals: 6},
		{Name: "mvrk", Decimals: 6},
	}
}

func (c *Config) Valid() error {
	var errs []error

	if err := c.Challenges.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Captcha.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Payout.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := Assets(c.Assets).Valid(c.Payout.Network); err != nil {
		errs = append(errs, err)
	}

	if c.Store == nil {
		errs = append(errs, ErrNoStoreBackend)
	} else if err := c.Store.Valid(); err != nil {
		errs = append(errs, err)
	}

	if c.Logging == nil {
		errs = append(errs, fmt.Errorf("%w: logging", ErrMissingValue))
	} else if err := c.Logging.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.HTTP.Valid(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// Load reads a YAML (or JSON) configuration from fin on top of Default. fname
// is only used in error messages.
func Load(fin io.Reader, fname string) (*Config, error) {
	data, err := io.ReadAll(fin)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCantReadFile, fname, err)
	}

	// A listed asset must not inherit fields from the default at its index.
	result := Default()
	result.Assets = nil
	if err := yaml.Unmarshal(data, result); err != nil {
		return nil, fmt.Errorf("can't parse configuration file %s: %w", fname, err)
	}

	if result.Assets == nil {
		result.Assets = DefaultAssets()
	}

	if err := result.Valid(); err != nil {
		return nil, fmt.Errorf("configuration file %s is invalid: %w", fname, err)
	}

	return result, nil
}
