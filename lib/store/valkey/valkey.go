package valkey

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

// Store implements store.Interface on top of Redis/Valkey hashes.
type Store struct {
	client redisClient
}

var _ store.Interface = (*Store)(nil)

// setFieldsIf compares the guard field and writes the rest in one script.
// KEYS[1] is the hash, ARGV is guard field, expected value, expiry in
// milliseconds, then field/value pairs.
var setFieldsIf = valkey.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
if not current then
  return -1
end
if current ~= ARGV[2] then
  return 0
end
for i = 4, #ARGV, 2 do
  redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// pairs flattens fields into sorted name/value arguments.
func pairs(fields map[string]string) []any {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, 0, len(fields)*2)
	for _, name := range names {
		args = append(args, name, fields[name])
	}

	return args
}

func (s *Store) SetFields(ctx context.Context, key string, fields map[string]string, expiry time.Duration) error {
	if len(fields) == 0 {
		return store.ErrNoFields
	}

	args := pairs(fields)

	// MULTI/EXEC so the hash is never visible without its expiry.
	if _, err := s.client.TxPipelined(ctx, func(pipe valkey.Pipeliner) error {
		pipe.HSet(ctx, key, args...)
		pipe.Expire(ctx, key, expiry)
		return nil
	}); err != nil {
		return fmt.Errorf("valkey: can't write %q: %w", key, err)
	}

	return nil
}

func (s *Store) SetFieldsIf(ctx context.Context, key, field, want string, fields map[string]string, expiry time.Duration) error {
	if len(fields) == 0 {
		return store.ErrNoFields
	}

	args := append([]any{field, want, expiry.Milliseconds()}, pairs(fields)...)

	n, err := setFieldsIf.Run(ctx, s.client, []string{key}, args...).Int()
	if err != nil {
		return fmt.Errorf("valkey: can't write %q: %w", key, err)
	}

	switch n {
	case -1:
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	case 0:
		return fmt.Errorf("%w: %q field %q", store.ErrConflict, key, field)
	}

	return nil
}

func (s *Store) GetFields(ctx context.Context, key string) (map[string]string, error) {
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("valkey: can't read %q: %w", key, err)
	}

	// HGETALL on a missing key is an empty reply, not valkey.Nil.
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return result, nil
}

// Delete relies on DEL reporting how many keys it removed. Redis executes
// commands one at a time, so only one caller can ever see 1 for a given key.
func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("valkey: can't delete %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}
	return nil
}

// IsPersistent tells the faucet this backend is real storage, not in-memory.
func (s *Store) IsPersistent() bool {
	return true
}
