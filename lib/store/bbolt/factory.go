package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
	"go.etcd.io/bbolt"
)

var (
	ErrMissingPath = errors.New("bbolt: path is missing from config")
)

func init() {
	store.Register("bbolt", Factory{})
}

type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0o700); err != nil {
		return nil, fmt.Errorf("can't create directory for %s: %w", config.Path, err)
	}

	bdb, err := bbolt.Open(config.Path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt database %s: %w", config.Path, err)
	}

	if err := bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(config.Bucket))
		return err
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("can't create bucket %q: %w", config.Bucket, err)
	}

	result := &Store{
		bdb:    bdb,
		bucket: []byte(config.Bucket),
		now:    time.Now,
	}

	go result.cleanupThread(ctx)

	return result, nil
}

func (Factory) Valid(data json.RawMessage) error {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return nil
}

type Config struct {
	Path   string `json:"path"`
	Bucket string `json:"bucket,omitempty"`
}

func (c *Config) Valid() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, ErrMissingPath)
	}

	if c.Bucket == "" {
		c.Bucket = "faucet"
	}

	if len(errs) != 0 {
		return fmt.Errorf("bbolt.Config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}
