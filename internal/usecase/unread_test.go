package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxMergeMonotonicity(t *testing.T) {
	cache := newFakeCache()
	agg := NewUnreadAggregator(cache)
	svc := newFakeChatService()
	svc.unreadSenders["bob"] = 2

	require.NoError(t, agg.RefreshPulled(context.Background(), svc))
	agg.IncrementPushed("bob")
	agg.IncrementPushed("bob")
	agg.IncrementPushed("bob")
	agg.SetAudited("bob", 1)

	assert.Equal(t, 3, agg.Effective("bob"), "merge takes the max, never the sum")

	// A later, smaller pull must not shrink the pushed count.
	svc.unreadSenders["bob"] = 1
	require.NoError(t, agg.RefreshPulled(context.Background(), svc))
	assert.Equal(t, 3, agg.Effective("bob"))

	agg.Reset("bob")
	assert.Equal(t, 0, agg.Effective("bob"), "reset zeroes all three sources")
	assert.Equal(t, 0, cache.get("bob"))
}

func TestPushIncrementsAndCacheWriteThrough(t *testing.T) {
	cache := newFakeCache()
	agg := NewUnreadAggregator(cache)

	agg.IncrementPushed("bob")
	agg.IncrementPushed("bob")
	assert.Equal(t, 2, agg.Effective("bob"))
	assert.Equal(t, 2, cache.get("bob"), "every change is written through")

	agg.Reset("bob")
	counts, _, err := cache.Load()
	require.NoError(t, err)
	_, present := counts["bob"]
	assert.False(t, present, "reset clears the persisted entry synchronously")
}

func TestCacheSeedsAggregateOnStartup(t *testing.T) {
	cache := newFakeCache()
	cache.Set("bob", 4)
	cache.SetForceCount(7)

	agg := NewUnreadAggregator(cache)
	assert.Equal(t, 4, agg.Effective("bob"), "no flash of zero before the first pull")
	assert.Equal(t, 7, agg.Total(), "force count floors the total badge")
}

func TestTotalSumsEffectiveCounts(t *testing.T) {
	agg := NewUnreadAggregator(newFakeCache())
	agg.IncrementPushed("bob")
	agg.IncrementPushed("bob")
	agg.SetAudited("carol", 3)

	assert.Equal(t, 5, agg.Total())
	assert.Equal(t, map[string]int{"bob": 2, "carol": 3}, agg.Counts())
}

func TestResetClearsForceCountWhenNothingUnread(t *testing.T) {
	cache := newFakeCache()
	agg := NewUnreadAggregator(cache)
	agg.SetForceCount(5)
	agg.IncrementPushed("bob")

	agg.Reset("bob")
	assert.Equal(t, 0, agg.Total())

	_, force, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, force)
}

func TestResetKeepsForceCountWhileOthersUnread(t *testing.T) {
	agg := NewUnreadAggregator(newFakeCache())
	agg.SetForceCount(10)
	agg.IncrementPushed("bob")
	agg.IncrementPushed("carol")

	agg.Reset("bob")
	assert.Equal(t, 10, agg.Total(), "force floor survives until all counterparts are read")
}

func TestRefreshPulledFailureKeepsPreviousValues(t *testing.T) {
	agg := NewUnreadAggregator(newFakeCache())
	svc := newFakeChatService()
	svc.unreadSenders["bob"] = 2
	require.NoError(t, agg.RefreshPulled(context.Background(), svc))

	svc.failList = false
	broken := &failingChatService{fakeChatService: svc}
	require.Error(t, agg.RefreshPulled(context.Background(), broken))
	assert.Equal(t, 2, agg.Effective("bob"))
}

type failingChatService struct {
	*fakeChatService
}

func (f *failingChatService) UnreadSenders(ctx context.Context) (map[string]int, error) {
	return nil, assert.AnError
}
