package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
	valkey "github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

func init() {
	store.Register("valkey", Factory{})
}

var (
	ErrNoURL  = errors.New("valkey.Config: no URL defined")
	ErrBadURL = errors.New("valkey.Config: URL is invalid")

	ErrSentinelMasterNameRequired = errors.New("valkey.Sentinel: masterName is required")
	ErrSentinelAddrRequired       = errors.New("valkey.Sentinel: addr is required")
	ErrSentinelAddrEmpty          = errors.New("valkey.Sentinel: addr has no non-empty entries")
)

// Config is what the faucet unmarshals from the store "parameters" block.
type Config struct {
	URL      string    `json:"url"`
	Cluster  bool      `json:"cluster,omitempty"`
	Sentinel *Sentinel `json:"sentinel,omitempty"`
}

func (c Config) Valid() error {
	if c.Sentinel != nil {
		return c.Sentinel.Valid()
	}

	if c.URL == "" {
		return ErrNoURL
	}

	if _, err := valkey.ParseURL(c.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrBadURL, err)
	}

	return nil
}

// Sentinel configures a Redis Sentinel managed deployment.
type Sentinel struct {
	MasterName string                  `json:"masterName"`
	Addr       internal.ListOr[string] `json:"addr"`
	ClientName string                  `json:"clientName,omitempty"`
	Username   string                  `json:"username,omitempty"`
	Password   string                  `json:"password,omitempty"`
}

func (s Sentinel) Valid() error {
	var errs []error

	if s.MasterName == "" {
		errs = append(errs, ErrSentinelMasterNameRequired)
	}

	switch {
	case len(s.Addr) == 0:
		errs = append(errs, ErrSentinelAddrRequired)
	case len(s.addrs()) == 0:
		errs = append(errs, ErrSentinelAddrEmpty)
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (s Sentinel) addrs() []string {
	var result []string
	for _, addr := range s.Addr {
		if addr != "" {
			result = append(result, addr)
		}
	}
	return result
}

// redisClient is satisfied by *valkey.Client (plain or failover) and
// *valkey.ClusterClient.
type redisClient interface {
	valkey.Scripter
	HGetAll(ctx context.Context, key string) *valkey.MapStringStringCmd
	Del(ctx context.Context, keys ...string) *valkey.IntCmd
	TxPipelined(ctx context.Context, fn func(valkey.Pipeliner) error) ([]valkey.Cmder, error)
	Ping(ctx context.Context) *valkey.StatusCmd
	Close() error
}

type Factory struct{}

func (Factory) Valid(data json.RawMessage) error {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}
	return cfg.Valid()
}

func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}
	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	// Maintenance notifications send CLIENT MAINT_NOTIFICATIONS ON, which
	// Valkey does not understand.
	noMaint := &maintnotifications.Config{
		Mode: maintnotifications.ModeDisabled,
	}

	var client redisClient

	switch {
	case cfg.Sentinel != nil:
		client = valkey.NewFailoverClient(&valkey.FailoverOptions{
			MasterName:    cfg.Sentinel.MasterName,
			SentinelAddrs: cfg.Sentinel.addrs(),
			ClientName:    cfg.Sentinel.ClientName,
			Username:      cfg.Sentinel.Username,
			Password:      cfg.Sentinel.Password,
		})
	case cfg.Cluster:
		opts, err := valkey.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("valkey.Factory: %w", err)
		}
		client = valkey.NewClusterClient(&valkey.ClusterOptions{
			Addrs:                    []string{opts.Addr},
			Username:                 opts.Username,
			Password:                 opts.Password,
			TLSConfig:                opts.TLSConfig,
			MaintNotificationsConfig: noMaint,
		})
	default:
		opts, err := valkey.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("valkey.Factory: %w", err)
		}
		opts.MaintNotificationsConfig = noMaint
		client = valkey.NewClient(opts)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey.Factory: ping failed: %w", err)
	}

	go func() {
		<-ctx.Done()
		client.Close()
	}()

	return &Store{client: client}, nil
}
