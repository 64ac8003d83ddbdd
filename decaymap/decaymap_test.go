package decaymap

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestImpl(t *testing.T) {
	dm := New[string, string]()
	t.Cleanup(dm.Close)

	dm.Set("test", "hi", 5*time.Minute)

	val, ok := dm.Get("test")
	if !ok {
		t.Error("somehow the test key was not set")
	}

	if val != "hi" {
		t.Errorf("wanted value %q, got: %q", "hi", val)
	}

	if !dm.Delete("test") {
		t.Error("deleting a live key should report true")
	}

	if dm.Delete("test") {
		t.Error("deleting a missing key should report false")
	}

	if _, ok := dm.Get("test"); ok {
		t.Error("got value even though it was supposed to be deleted")
	}
}

func TestExpiredEntriesAreInvisible(t *testing.T) {
	dm := New[string, int]()
	t.Cleanup(dm.Close)

	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	dm.now = func() time.Time { return time.Unix(0, clock.Load()) }
	advance := func(d time.Duration) { clock.Add(int64(d)) }

	dm.Set("k", 1, time.Second)
	advance(2 * time.Second)

	if _, ok := dm.Get("k"); ok {
		t.Error("expired key was readable")
	}

	if dm.Delete("k") {
		t.Error("expired key was reported as deleted")
	}

	dm.Set("k", 2, time.Second)
	dm.Cleanup()
	if dm.Len() != 1 {
		t.Errorf("live key was cleaned up, len = %d", dm.Len())
	}

	advance(2 * time.Second)
	dm.Cleanup()
	if dm.Len() != 0 {
		t.Errorf("expired key survived cleanup, len = %d", dm.Len())
	}
}

func TestUpsert(t *testing.T) {
	dm := New[string, map[string]string]()
	t.Cleanup(dm.Close)

	merge := func(add map[string]string) func(map[string]string, bool) map[string]string {
		return func(old map[string]string, ok bool) map[string]string {
			result := map[string]string{}
			if ok {
				for k, v := range old {
					result[k] = v
				}
			}
			for k, v := range add {
				result[k] = v
			}
			return result
		}
	}

	dm.Upsert("k", time.Minute, merge(map[string]string{"a": "1"}))
	stored := dm.Upsert("k", time.Minute, merge(map[string]string{"b": "2"}))
	if len(stored) != 2 {
		t.Errorf("Upsert returned %v, wanted both fields", stored)
	}

	got, ok := dm.Get("k")
	if !ok {
		t.Fatal("upserted key missing")
	}

	if got["a"] != "1" || got["b"] != "2" {
		t.Errorf("fields were not merged: %v", got)
	}
}

func TestReplace(t *testing.T) {
	dm := New[string, int]()
	t.Cleanup(dm.Close)

	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	dm.now = func() time.Time { return time.Unix(0, clock.Load()) }

	bump := func(want int) func(int) (int, bool) {
		return func(old int) (int, bool) {
			return old + 1, old == want
		}
	}

	if found, _ := dm.Replace("k", time.Second, bump(0)); found {
		t.Error("absent key was found")
	}

	dm.Set("k", 1, time.Second)

	if found, replaced := dm.Replace("k", time.Minute, bump(1)); !found || !replaced {
		t.Errorf("matching value was not replaced: found=%v replaced=%v", found, replaced)
	}

	if found, replaced := dm.Replace("k", time.Minute, bump(1)); !found || replaced {
		t.Errorf("stale value was replaced: found=%v replaced=%v", found, replaced)
	}

	if got, _ := dm.Get("k"); got != 2 {
		t.Errorf("wanted 2, got: %d", got)
	}

	clock.Add(int64(2 * time.Minute))

	if found, _ := dm.Replace("k", time.Minute, bump(2)); found {
		t.Error("expired key was found")
	}
}

func TestDeleteExactlyOnce(t *testing.T) {
	dm := New[string, string]()
	t.Cleanup(dm.Close)

	dm.Set("claim", "x", time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dm.Delete("claim") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := wins.Load(); n != 1 {
		t.Errorf("wanted exactly one winning delete, got %d", n)
	}
}
