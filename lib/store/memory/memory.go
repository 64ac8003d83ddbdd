// Package memory is an in-process store backend. It does not scale past a
// single faucet instance.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/decaymap"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
)

func init() {
	store.Register("memory", Factory{})
}

type Factory struct{}

func (Factory) Build(ctx context.Context, _ json.RawMessage) (store.Interface, error) {
	return New(ctx), nil
}

func (Factory) Valid(json.RawMessage) error { return nil }

type impl struct {
	store *decaymap.Impl[string, map[string]string]
}

// New creates an in-memory store whose janitor stops when ctx is cancelled.
func New(ctx context.Context) store.Interface {
	result := &impl{
		store: decaymap.New[string, map[string]string](),
	}

	go result.cleanupThread(ctx)

	return result
}

func (i *impl) SetFields(_ context.Context, key string, fields map[string]string, expiry time.Duration) error {
	if len(fields) == 0 {
		return store.ErrNoFields
	}

	i.store.Upsert(key, expiry, func(old map[string]string, ok bool) map[string]string {
		result := make(map[string]string, len(old)+len(fields))
		if ok {
			maps.Copy(result, old)
		}
		maps.Copy(result, fields)
		return result
	})

	return nil
}

func (i *impl) SetFieldsIf(_ context.Context, key, field, want string, fields map[string]string, expiry time.Duration) error {
	if len(fields) == 0 {
		return store.ErrNoFields
	}

	found, replaced := i.store.Replace(key, expiry, func(old map[string]string) (map[string]string, bool) {
		if got, ok := old[field]; !ok || got != want {
			return nil, false
		}

		result := make(map[string]string, len(old)+len(fields))
		maps.Copy(result, old)
		maps.Copy(result, fields)
		return result, true
	})

	switch {
	case !found:
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	case !replaced:
		return fmt.Errorf("%w: %q field %q", store.ErrConflict, key, field)
	}

	return nil
}

func (i *impl) GetFields(_ context.Context, key string) (map[string]string, error) {
	result, ok := i.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return maps.Clone(result), nil
}

func (i *impl) Delete(_ context.Context, key string) error {
	if !i.store.Delete(key) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (i *impl) IsPersistent() bool { return false }

func (i *impl) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			i.store.Close()
			return
		case <-t.C:
			i.store.Cleanup()
		}
	}
}
