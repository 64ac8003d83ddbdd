// Package bbolt is a single-node persistent store backend on top of an
// embedded bbolt database file.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
	"go.etcd.io/bbolt"
)

// record is the on-disk shape of a key.
type record struct {
	Fields    map[string]string `json:"fields"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

func (r record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store implements store.Interface. Every method runs inside a single bbolt
// transaction, and bbolt allows only one read-write transaction at a time, so
// Delete and SetFieldsIf are linearizable without extra locking.
type Store struct {
	bdb    *bbolt.DB
	bucket []byte
	now    func() time.Time
}

var _ store.Interface = (*Store)(nil)

// live returns the unexpired record at key, if any.
func live(b *bbolt.Bucket, key string, now time.Time) (record, bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return record{}, false, nil
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, false, fmt.Errorf("bbolt: can't decode %q: %w", key, err)
	}

	if rec.expired(now) || len(rec.Fields) == 0 {
		return record{}, false, nil
	}

	return rec, true, nil
}

func put(b *bbolt.Bucket, key string, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("bbolt: can't encode %q: %w", key, err)
	}

	return b.Put([]byte(key), data)
}

func (s *Store) SetFields(ctx context.Context, key string, fields map[string]string, expiry time.Duration) error {
	if len(fields) == 0 {
		return store.ErrNoFields
	}

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		now := s.now()

		rec, ok, err := live(b, key, now)
		if err != nil {
			return err
		}
		if !ok {
			rec = record{Fields: map[string]string{}}
		}

		maps.Copy(rec.Fields, fields)
		rec.ExpiresAt = now.Add(expiry)

		return put(b, key, rec)
	})
}

func (s *Store) SetFieldsIf(ctx context.Context, key, field, want string, fields map[string]string, expiry time.Duration) error {
	if len(fields) == 0 {
		return store.ErrNoFields
	}

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		now := s.now()

		rec, ok, err := live(b, key, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		if got, ok := rec.Fields[field]; !ok || got != want {
			return fmt.Errorf("%w: %q field %q", store.ErrConflict, key, field)
		}

		maps.Copy(rec.Fields, fields)
		rec.ExpiresAt = now.Add(expiry)

		return put(b, key, rec)
	})
}

func (s *Store) GetFields(ctx context.Context, key string) (map[string]string, error) {
	var rec record

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(s.bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		// data is only valid for the life of the transaction.
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("bbolt: can't decode %q: %w", key, err)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	if rec.expired(s.now()) || len(rec.Fields) == 0 {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return rec.Fields, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)

		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("bbolt: can't decode %q: %w", key, err)
		}

		// Expired records are left for the sweeper; returning an error here
		// rolls the transaction back anyway.
		if rec.expired(s.now()) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		if err := b.Delete([]byte(key)); err != nil {
			return fmt.Errorf("bbolt: can't delete %q: %w", key, err)
		}

		return nil
	})
}

func (s *Store) IsPersistent() bool { return true }

// cleanup removes every expired record.
func (s *Store) cleanup() error {
	now := s.now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var stale [][]byte

		if err := b.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil || rec.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		var errs []error
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.bdb.Close(); err != nil {
				slog.Error("bbolt: can't close database", "path", s.bdb.Path(), "err", err)
			}
			return
		case <-t.C:
			if err := s.cleanup(); err != nil {
				slog.Error("bbolt: can't clean up expired records", "err", err)
			}
		}
	}
}
