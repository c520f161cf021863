package usecase

import (
	"context"
	"sync"

	"umbra/internal/domain/repository"
	"umbra/pkg/logger"
)

// UnreadAggregator merges the three independently-updating unread sources
// into one authoritative number per counterpart: the periodically pulled
// server count, a push-driven local counter, and a count audited directly
// from a room's message log. The merge is always max, never sum, so a
// stale pull can never shrink a count a push already grew. Every change is
// written through to the durable cache so a reload does not flash zero.
type UnreadAggregator struct {
	cache repository.UnreadCache

	mu      sync.Mutex
	pulled  map[string]int
	pushed  map[string]int
	audited map[string]int
	force   int
}

func NewUnreadAggregator(cache repository.UnreadCache) *UnreadAggregator {
	agg := &UnreadAggregator{
		cache:   cache,
		pulled:  make(map[string]int),
		pushed:  make(map[string]int),
		audited: make(map[string]int),
	}

	// The cache seeds the in-memory aggregate before the first pull
	// resolves. Cached values land in the pulled source; the max merge
	// makes the placement irrelevant.
	counts, force, err := cache.Load()
	if err != nil {
		logger.Warn("UnreadAggregator: failed to seed from cache: %v", err)
		return agg
	}
	for key, count := range counts {
		agg.pulled[key] = count
	}
	agg.force = force
	return agg
}

// RefreshPulled replaces the server-pulled source from the counts
// endpoint. Failures keep the previous pulled values.
func (a *UnreadAggregator) RefreshPulled(ctx context.Context, svc repository.ChatService) error {
	counts, err := svc.UnreadSenders(ctx)
	if err != nil {
		logger.Warn("UnreadAggregator RefreshPulled: counts endpoint failed: %v", err)
		return err
	}

	a.mu.Lock()
	a.pulled = make(map[string]int, len(counts))
	for key, count := range counts {
		a.pulled[key] = count
	}
	keys := a.keysLocked()
	a.mu.Unlock()

	for _, key := range keys {
		a.persist(key)
	}
	return nil
}

// IncrementPushed bumps the push-driven counter by exactly one. No attempt
// is made to avoid double counting against the pulled source; the max
// merge resolves that.
func (a *UnreadAggregator) IncrementPushed(key string) {
	a.mu.Lock()
	a.pushed[key]++
	a.mu.Unlock()
	a.persist(key)
}

// SetAudited records the count derived from auditing a room's message log.
func (a *UnreadAggregator) SetAudited(key string, count int) {
	a.mu.Lock()
	a.audited[key] = count
	a.mu.Unlock()
	a.persist(key)
}

// Effective is the one number every surface renders for a counterpart.
func (a *UnreadAggregator) Effective(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.effectiveLocked(key)
}

// Counts returns the nonzero effective count per counterpart.
func (a *UnreadAggregator) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts := make(map[string]int)
	for _, key := range a.keysLocked() {
		if n := a.effectiveLocked(key); n > 0 {
			counts[key] = n
		}
	}
	return counts
}

// Total is the merged badge value across all counterparts, floored by the
// persisted force count.
func (a *UnreadAggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, key := range a.keysLocked() {
		total += a.effectiveLocked(key)
	}
	if a.force > total {
		return a.force
	}
	return total
}

// SetForceCount records the scalar fallback and persists it.
func (a *UnreadAggregator) SetForceCount(count int) {
	a.mu.Lock()
	a.force = count
	a.mu.Unlock()
	if err := a.cache.SetForceCount(count); err != nil {
		logger.Warn("UnreadAggregator SetForceCount: cache write failed: %v", err)
	}
}

// Reset zeroes all three sources for the counterpart and synchronously
// clears its cache entry, so a reload immediately reflects zero. Once no
// counterpart has anything unread the force count is cleared too.
func (a *UnreadAggregator) Reset(key string) {
	a.mu.Lock()
	delete(a.pulled, key)
	delete(a.pushed, key)
	delete(a.audited, key)
	clearForce := true
	for _, other := range a.keysLocked() {
		if a.effectiveLocked(other) > 0 {
			clearForce = false
			break
		}
	}
	if clearForce {
		a.force = 0
	}
	a.mu.Unlock()

	if err := a.cache.Delete(key); err != nil {
		logger.Warn("UnreadAggregator Reset: cache delete failed for %s: %v", key, err)
	}
	if clearForce {
		if err := a.cache.SetForceCount(0); err != nil {
			logger.Warn("UnreadAggregator Reset: cache force-count clear failed: %v", err)
		}
	}
}

func (a *UnreadAggregator) effectiveLocked(key string) int {
	max := a.pulled[key]
	if a.pushed[key] > max {
		max = a.pushed[key]
	}
	if a.audited[key] > max {
		max = a.audited[key]
	}
	return max
}

func (a *UnreadAggregator) keysLocked() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, source := range []map[string]int{a.pulled, a.pushed, a.audited} {
		for key := range source {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}

func (a *UnreadAggregator) persist(key string) {
	if err := a.cache.Set(key, a.Effective(key)); err != nil {
		logger.Warn("UnreadAggregator: cache write failed for %s: %v", key, err)
	}
}
