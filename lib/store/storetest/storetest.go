// Package storetest is the conformance suite every store backend runs.
package storetest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
)

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	t.Helper()

	if err := f.Valid(config); err != nil {
		t.Fatalf("config is not valid: %v", err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic get set delete",
			doer: func(t *testing.T, s store.Interface) error {
				key := t.Name()

				if _, err := s.GetFields(t.Context(), key); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("wrong error from GetFields on missing key: %w", err)
				}

				if err := s.SetFields(t.Context(), key, map[string]string{"hello": "world"}, time.Minute); err != nil {
					return err
				}

				got, err := s.GetFields(t.Context(), key)
				if err != nil {
					return err
				}

				if want := "world"; got["hello"] != want {
					return fmt.Errorf("wanted %q, got: %q", want, got["hello"])
				}

				if err := s.Delete(t.Context(), key); err != nil {
					return err
				}

				if _, err := s.GetFields(t.Context(), key); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("wrong error from GetFields after delete: %w", err)
				}

				if err := s.Delete(t.Context(), key); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("wrong error from second Delete: %w", err)
				}

				return nil
			},
		},
		{
			name: "fields merge on write",
			doer: func(t *testing.T, s store.Interface) error {
				key := t.Name()

				if err := s.SetFields(t.Context(), key, map[string]string{"a": "1", "b": "1"}, time.Minute); err != nil {
					return err
				}

				if err := s.SetFields(t.Context(), key, map[string]string{"b": "2"}, time.Minute); err != nil {
					return err
				}

				got, err := s.GetFields(t.Context(), key)
				if err != nil {
					return err
				}

				if got["a"] != "1" || got["b"] != "2" {
					return fmt.Errorf("wanted a=1 b=2, got: %v", got)
				}

				return s.Delete(t.Context(), key)
			},
		},
		{
			name: "conditional write",
			doer: func(t *testing.T, s store.Interface) error {
				key := t.Name()

				if err := s.SetFieldsIf(t.Context(), key, "round", "1", map[string]string{"round": "2"}, time.Minute); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("wrong error from SetFieldsIf on missing key: %w", err)
				}

				if _, err := s.GetFields(t.Context(), key); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("SetFieldsIf created a missing key: %w", err)
				}

				if err := s.SetFields(t.Context(), key, map[string]string{"round": "1", "keep": "me"}, time.Minute); err != nil {
					return err
				}

				if err := s.SetFieldsIf(t.Context(), key, "round", "1", map[string]string{"round": "2"}, time.Minute); err != nil {
					return fmt.Errorf("matching SetFieldsIf failed: %w", err)
				}

				if err := s.SetFieldsIf(t.Context(), key, "round", "1", map[string]string{"round": "3"}, time.Minute); !errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("wrong error from stale SetFieldsIf: %w", err)
				}

				if err := s.SetFieldsIf(t.Context(), key, "missing", "", map[string]string{"round": "3"}, time.Minute); !errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("wrong error from SetFieldsIf on a missing field: %w", err)
				}

				got, err := s.GetFields(t.Context(), key)
				if err != nil {
					return err
				}

				if got["round"] != "2" || got["keep"] != "me" {
					return fmt.Errorf("wanted round=2 keep=me, got: %v", got)
				}

				if err := s.Delete(t.Context(), key); err != nil {
					return err
				}

				if err := s.SetFieldsIf(t.Context(), key, "round", "2", map[string]string{"round": "3"}, time.Minute); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("SetFieldsIf revived a deleted key: %w", err)
				}

				if _, err := s.GetFields(t.Context(), key); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("deleted key came back: %w", err)
				}

				return nil
			},
		},
		{
			name: "conditional write exactly once",
			doer: func(t *testing.T, s store.Interface) error {
				key := t.Name()

				if err := s.SetFields(t.Context(), key, map[string]string{"round": "1"}, time.Minute); err != nil {
					return err
				}

				var (
					wins atomic.Int32
					wg   sync.WaitGroup
					errs = make(chan error, 32)
				)

				for i := range 32 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						next := map[string]string{"round": fmt.Sprintf("2-%d", i)}
						switch err := s.SetFieldsIf(t.Context(), key, "round", "1", next, time.Minute); {
						case err == nil:
							wins.Add(1)
						case errors.Is(err, store.ErrConflict):
						default:
							errs <- err
						}
					}()
				}
				wg.Wait()
				close(errs)

				if err, ok := <-errs; ok {
					return err
				}

				if wins.Load() != 1 {
					return fmt.Errorf("wanted exactly one successful conditional write, got %d", wins.Load())
				}

				return s.Delete(t.Context(), key)
			},
		},
		{
			name: "empty conditional write",
			doer: func(t *testing.T, s store.Interface) error {
				return s.SetFieldsIf(t.Context(), t.Name(), "round", "1", nil, time.Minute)
			},
			err: store.ErrNoFields,
		},
		{
			name: "empty write",
			doer: func(t *testing.T, s store.Interface) error {
				return s.SetFields(t.Context(), t.Name(), map[string]string{}, time.Minute)
			},
			err: store.ErrNoFields,
		},
		{
			name: "expiry",
			doer: func(t *testing.T, s store.Interface) error {
				key := t.Name()

				if err := s.SetFields(t.Context(), key, map[string]string{"hello": "world"}, time.Second); err != nil {
					return err
				}

				time.Sleep(2500 * time.Millisecond)

				if _, err := s.GetFields(t.Context(), key); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("wrong error from GetFields on expired key: %w", err)
				}

				if err := s.Delete(t.Context(), key); !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("expired key must not be deletable: %w", err)
				}

				return nil
			},
		},
		{
			name: "delete exactly once",
			doer: func(t *testing.T, s store.Interface) error {
				key := t.Name()

				if err := s.SetFields(t.Context(), key, map[string]string{"claim": "me"}, time.Minute); err != nil {
					return err
				}

				var (
					wins   atomic.Int32
					misses atomic.Int32
					wg     sync.WaitGroup
					errs   = make(chan error, 32)
				)

				for range 32 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						switch err := s.Delete(t.Context(), key); {
						case err == nil:
							wins.Add(1)
						case errors.Is(err, store.ErrNotFound):
							misses.Add(1)
						default:
							errs <- err
						}
					}()
				}
				wg.Wait()
				close(errs)

				if err, ok := <-errs; ok {
					return err
				}

				if wins.Load() != 1 {
					return fmt.Errorf("wanted exactly one successful delete, got %d (misses: %d)", wins.Load(), misses.Load())
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
