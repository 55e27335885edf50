package core

import (
	"container/list"
	"fmt"
	"time"

	"TaniLedger/internal/observability"
)

// IdempotencyChecker implements two-tier deduplication on request ids.
// A request id is global: reusing it for a different command type is still a
// duplicate.
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(requestID string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks if the request id has been committed (two-tier lookup).
// A failed Postgres lookup is returned as an error; the command must not be
// admitted when its request id cannot be checked.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, requestID string) (bool, error) {
	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(requestID) {
		ic.recordDuplicate(eventType, "lru")
		return true, nil
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		start := time.Now()
		isDup, err := ic.dbChecker.IsDuplicate(requestID)
		if ic.metrics != nil {
			ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false, fmt.Errorf("tier-2 dedup lookup for %s: %w", requestID, err)
		}

		if isDup {
			ic.recordDuplicate(eventType, "postgres")
			ic.lru.Add(requestID)
			return true, nil
		}
	}

	return false, nil
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(requestID string) {
	evicted := ic.lru.Add(requestID)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for request ids.
// Not thread-safe; only accessed from the single-threaded deterministic core.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists). Returns true if an entry was evicted.
func (lru *IdempotencyLRU) Add(key string) bool {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return false
	}

	lru.cache[key] = lru.lruList.PushFront(key)

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
		return true
	}
	return false
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads keys oldest-first so the most recent end up at the front.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys returns keys from least to most recently used, the order
// WarmFromKeys expects.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
