package cmap

import (
	"fmt"
	"hash/maphash"
	"sync"
	"time"
)

// DefaultShardCount is the default number of lock stripes.
const DefaultShardCount = 16

// entry pairs a value with its optional expiry instant.
// A zero expiresAt means the entry never expires.
type entry[V any] struct {
	value     V
	expiresAt int64 // unix nanoseconds, 0 = no expiry
}

func (e entry[V]) expired(now int64) bool {
	return e.expiresAt != 0 && e.expiresAt <= now
}

// Map is a concurrent-safe sharded map with per-entry TTL support.
type Map[K comparable, V any] struct {
	shards    []*shard[K, V]
	shardMask uint64
	seed      maphash.Seed
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
}

// New creates a sharded map with the default stripe count.
func New[K comparable, V any]() *Map[K, V] {
	return NewWithShards[K, V](DefaultShardCount)
}

// NewWithShards creates a sharded map with the given stripe count,
// which must be a power of 2 (falls back to the default otherwise).
func NewWithShards[K comparable, V any](shardCount int) *Map[K, V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}

	m := &Map[K, V]{
		shards:    make([]*shard[K, V], shardCount),
		shardMask: uint64(shardCount - 1),
		seed:      maphash.MakeSeed(),
	}

	for i := 0; i < shardCount; i++ {
		m.shards[i] = &shard[K, V]{
			items: make(map[K]entry[V]),
		}
	}

	return m
}

func (m *Map[K, V]) getShard(key K) *shard[K, V] {
	var h maphash.Hash
	h.SetSeed(m.seed)
	h.WriteString(fmt.Sprintf("%v", key))
	return m.shards[h.Sum64()&m.shardMask]
}

// Get retrieves a value by key. Expired entries read as absent.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(time.Now().UnixNano()) {
		// Lazy eviction.
		s.mu.Lock()
		if cur, still := s.items[key]; still && cur.expired(time.Now().UnixNano()) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a key-value pair without expiry.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value}
	s.mu.Unlock()
}

// SetWithTTL stores a key-value pair that expires after ttl.
// A non-positive ttl stores the entry without expiry.
func (m *Map[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl).UnixNano()
	}
	s := m.getShard(key)
	s.mu.Lock()
	s.items[key] = e
	s.mu.Unlock()
}

// SetIfAbsent stores the value only if the key is absent (or expired).
// Returns true if the value was stored. This is the atomic primitive the
// replay set relies on: concurrent insertion of the same key admits
// exactly one caller.
func (m *Map[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl).UnixNano()
	}

	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.items[key]; ok && !cur.expired(time.Now().UnixNano()) {
		return false
	}
	s.items[key] = e
	return true
}

// Delete removes a key.
func (m *Map[K, V]) Delete(key K) {
	s := m.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Has checks whether a key exists and is not expired.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Count returns the number of live (non-expired) entries.
func (m *Map[K, V]) Count() int {
	now := time.Now().UnixNano()
	count := 0
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.items {
			if !e.expired(now) {
				count++
			}
		}
		s.mu.RUnlock()
	}
	return count
}

// Range iterates over all live key-value pairs. The callback returns
// false to stop. Locks are taken shard by shard, so the view may not be
// globally consistent.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	now := time.Now().UnixNano()
	for _, s := range m.shards {
		s.mu.RLock()
		for k, e := range s.items {
			if e.expired(now) {
				continue
			}
			if !fn(k, e.value) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Sweep removes all expired entries and returns the count evicted.
// Callers run this on a ticker to bound memory.
func (m *Map[K, V]) Sweep() int {
	now := time.Now().UnixNano()
	evicted := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.expired(now) {
				delete(s.items, k)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Clear removes all entries.
func (m *Map[K, V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[K]entry[V])
		s.mu.Unlock()
	}
}

// ShardCount returns the number of lock stripes.
func (m *Map[K, V]) ShardCount() int {
	return len(m.shards)
}
