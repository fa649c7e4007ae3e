// Package cache provides the time-boxed memoization layer shared by the
// catalog resolver, the intent classifier, and the merchant recommender.
// Concurrent fetches for the same key are collapsed into a single producer
// call; a failed producer never leaves a poisoned slot behind.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/convocart/convocart/core"
)

// Bucket names the independent cache kinds. Each bucket has its own TTL,
// configured by the caller on every GetOrFetch.
type Bucket string

const (
	BucketCatalog        Bucket = "catalog"
	BucketIntent         Bucket = "intent"
	BucketRecommendation Bucket = "recommendation"
)

// Stats provides cache performance metrics
type Stats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Producer fetches the value for a key on a cache miss.
type Producer func(ctx context.Context) (interface{}, error)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Service is an in-memory TTL cache with single-flight de-duplication.
// Entries are evicted lazily on access; a defensive size cap evicts the
// entry closest to expiry when exceeded.
type Service struct {
	mu      sync.RWMutex
	items   map[string]*entry
	group   singleflight.Group
	stats   Stats
	maxSize int
	logger  core.Logger
	nowFunc func() time.Time
}

// New creates a cache service. maxSize <= 0 disables the size cap.
func New(maxSize int, logger core.Logger) *Service {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Service{
		items:   make(map[string]*entry),
		maxSize: maxSize,
		logger:  logger,
		nowFunc: time.Now,
	}
}

func cacheKey(bucket Bucket, key string) string {
	return string(bucket) + ":" + key
}

// GetOrFetch returns the live cached value for (bucket, key), joins an
// in-flight fetch for the same key if one exists, or invokes producer and
// stores the result with a fresh timestamp. Producer failures are returned
// to every joined caller and the slot is cleared so the next call retries.
func (s *Service) GetOrFetch(ctx context.Context, bucket Bucket, key string, ttl time.Duration, producer Producer) (interface{}, error) {
	ck := cacheKey(bucket, key)

	if v, ok := s.lookup(ck); ok {
		return v, nil
	}

	v, err, shared := s.group.Do(ck, func() (interface{}, error) {
		// Re-check under the flight: another caller may have completed the
		// fill between our miss and the group admitting us.
		if v, ok := s.lookup(ck); ok {
			return v, nil
		}

		value, err := producer(ctx)
		if err != nil {
			s.logger.Debug("Cache fill failed", map[string]interface{}{
				"operation": "cache_fill",
				"bucket":    string(bucket),
				"key":       key,
				"error":     err.Error(),
			})
			return nil, err
		}
		s.store(ck, value, ttl)
		return value, nil
	})
	if err != nil {
		// Forget the flight so the next caller retries instead of reusing
		// the failed result.
		s.group.Forget(ck)
		return nil, fmt.Errorf("cache fill %s: %w", ck, err)
	}

	if shared {
		s.logger.Debug("Cache fill shared", map[string]interface{}{
			"operation": "cache_fill",
			"bucket":    string(bucket),
			"key":       key,
			"result":    "single_flight_join",
		})
	}
	return v, nil
}

func (s *Service) lookup(ck string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, found := s.items[ck]
	if !found {
		s.stats.Misses++
		s.updateHitRate()
		return nil, false
	}
	if s.nowFunc().After(item.expiresAt) {
		delete(s.items, ck)
		s.stats.Evictions++
		s.stats.Misses++
		s.updateHitRate()
		return nil, false
	}
	s.stats.Hits++
	s.updateHitRate()
	return item.value, true
}

func (s *Service) store(ck string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize > 0 && len(s.items) >= s.maxSize {
		s.evictExpired()
		if len(s.items) >= s.maxSize {
			s.evictOldest()
		}
	}

	s.items[ck] = &entry{
		value:     value,
		expiresAt: s.nowFunc().Add(ttl),
	}
	s.stats.Size = len(s.items)
}

// Invalidate removes the entry for (bucket, key) if present.
func (s *Service) Invalidate(bucket Bucket, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ck := cacheKey(bucket, key)
	if _, ok := s.items[ck]; ok {
		delete(s.items, ck)
		s.stats.Evictions++
		s.stats.Size = len(s.items)
	}
}

// Clear removes every entry.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*entry)
	s.stats.Size = 0
}

// GetStats returns a snapshot of cache statistics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Size = len(s.items)
	return stats
}

func (s *Service) evictExpired() {
	now := s.nowFunc()
	for key, item := range s.items {
		if now.After(item.expiresAt) {
			delete(s.items, key)
			s.stats.Evictions++
		}
	}
}

func (s *Service) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range s.items {
		if oldestTime.IsZero() || item.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.expiresAt
		}
	}
	if oldestKey != "" {
		delete(s.items, oldestKey)
		s.stats.Evictions++
	}
}

func (s *Service) updateHitRate() {
	total := s.stats.Hits + s.stats.Misses
	if total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}
