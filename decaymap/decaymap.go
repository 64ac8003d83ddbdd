package decaymap

import (
	"sync"
	"time"
)

func Zilch[T any]() T {
	var zero T
	return zero
}

// Impl is a lazy key->value map with per-entry time-to-live. Expired entries
// are invisible to every operation and get pruned in the background.
type Impl[K comparable, V any] struct {
	data map[K]decayMapEntry[V]

	// deleteCh receives decay-deletion requests from readers.
	deleteCh chan deleteReq[K]
	// stopCh stops the background cleanup worker.
	stopCh chan struct{}
	wg     sync.WaitGroup
	lock   sync.RWMutex

	// now is swapped out in tests.
	now func() time.Time
}

type decayMapEntry[V any] struct {
	Value  V
	expiry time.Time
}

// deleteReq is a request to remove a key if its expiry timestamp still matches
// the observed one. This prevents racing with concurrent Set updates.
type deleteReq[K comparable] struct {
	key    K
	expiry time.Time
}

// New creates a new DecayMap of key type K and value type V.
//
// Key types must be comparable to work with maps.
func New[K comparable, V any]() *Impl[K, V] {
	m := &Impl[K, V]{
		data:     make(map[K]decayMapEntry[V]),
		deleteCh: make(chan deleteReq[K], 1024),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	m.wg.Add(1)
	go m.cleanupWorker()
	return m
}

// Delete removes a live value from the DecayMap by key.
//
// It returns true only when a value that had not yet expired was removed.
// Exactly one of any number of concurrent callers deleting the same live key
// observes true.
func (m *Impl[K, V]) Delete(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	entry, ok := m.data[key]
	if !ok {
		return false
	}

	delete(m.data, key)
	return !m.now().After(entry.expiry)
}

// Get gets a value from the DecayMap by key.
//
// If a value has expired, forcibly delete it if it was not updated. Get never
// extends the lifetime of an entry.
func (m *Impl[K, V]) Get(key K) (V, bool) {
	m.lock.RLock()
	value, ok := m.data[key]
	m.lock.RUnlock()

	if !ok {
		return Zilch[V](), false
	}

	if m.now().After(value.expiry) {
		// Defer decay deletion to the background worker to avoid convoy.
		select {
		case m.deleteCh <- deleteReq[K]{key: key, expiry: value.expiry}:
		default:
			// Channel full: drop request; a future Cleanup() or Get will retry.
		}

		return Zilch[V](), false
	}

	return value.Value, true
}

// Set sets a key value pair in the map.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data[key] = decayMapEntry[V]{
		Value:  value,
		expiry: m.now().Add(ttl),
	}
}

// Upsert atomically replaces the value at key with the result of fn, resets
// its time-to-live and returns the stored value. fn sees ok == false when the
// key is absent or expired.
func (m *Impl[K, V]) Upsert(key K, ttl time.Duration, fn func(old V, ok bool) V) V {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	old, ok := m.data[key]
	if ok && now.After(old.expiry) {
		ok = false
		old = decayMapEntry[V]{}
	}

	value := fn(old.Value, ok)
	m.data[key] = decayMapEntry[V]{
		Value:  value,
		expiry: now.Add(ttl),
	}

	return value
}

// Replace swaps the live value at key for the one fn returns and resets its
// time-to-live. fn may decline by returning false, leaving the entry as it
// was. found is false when key is absent or expired, in which case fn is not
// called.
func (m *Impl[K, V]) Replace(key K, ttl time.Duration, fn func(old V) (V, bool)) (found, replaced bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	old, ok := m.data[key]
	if !ok || now.After(old.expiry) {
		return false, false
	}

	value, ok := fn(old.Value)
	if !ok {
		return true, false
	}

	m.data[key] = decayMapEntry[V]{
		Value:  value,
		expiry: now.Add(ttl),
	}

	return true, true
}

// Cleanup removes all expired entries from the DecayMap.
func (m *Impl[K, V]) Cleanup() {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	for key, entry := range m.data {
		if now.After(entry.expiry) {
			delete(m.data, key)
		}
	}
}

// Len returns the number of entries in the DecayMap, expired or not.
func (m *Impl[K, V]) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.data)
}

// Close stops the background cleanup worker. Call in tests or when the map is
// no longer needed to avoid goroutine leaks.
func (m *Impl[K, V]) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// cleanupWorker batches decay deletions to minimize lock contention.
func (m *Impl[K, V]) cleanupWorker() {
	defer m.wg.Done()
	batch := make([]deleteReq[K], 0, 64)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		m.applyDeletes(batch)
		batch = batch[:0]
	}

	for {
		select {
		case req := <-m.deleteCh:
			batch = append(batch, req)
		case <-ticker.C:
			flush()
		case <-m.stopCh:
			for {
				select {
				case req := <-m.deleteCh:
					batch = append(batch, req)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (m *Impl[K, V]) applyDeletes(batch []deleteReq[K]) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	for _, req := range batch {
		entry, ok := m.data[req.key]
		if !ok {
			continue
		}
		// Only delete if the expiry is unchanged and already past.
		if entry.expiry.Equal(req.expiry) && now.After(entry.expiry) {
			delete(m.data, req.key)
		}
	}
}
