package application

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagecommodities/vantage/internal/usage/domain"
	"github.com/vantagecommodities/vantage/internal/usage/infrastructure"
)

func newTestTracker() *Tracker {
	return NewTracker(infrastructure.NewMemoryRepository(), slog.New(slog.DiscardHandler))
}

func TestTracker_TrackAndGet(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, tracker.Track(ctx, userID, domain.MetricAPICalls, 3))
	require.NoError(t, tracker.Track(ctx, userID, domain.MetricAPICalls, 2))
	require.NoError(t, tracker.Track(ctx, userID, domain.MetricStorageBytes, 1024))

	usage, err := tracker.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), usage.APICalls)
	assert.Equal(t, int64(1024), usage.StorageBytes)
	assert.Zero(t, usage.ActiveUsers)
	assert.False(t, usage.LastUpdated.IsZero())
}

func TestTracker_ConcurrentTracksNeverLoseIncrements(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()
	userID := uuid.New()

	const workers = 32
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			assert.NoError(t, tracker.Track(ctx, userID, domain.MetricAPICalls, 5))
		}()
	}
	wg.Wait()

	usage, err := tracker.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*5), usage.APICalls)
}

func TestTracker_TrackRejectsUnknownMetric(t *testing.T) {
	tracker := newTestTracker()

	err := tracker.Track(context.Background(), uuid.New(), "cpu_seconds", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpu_seconds")
}

func TestTracker_GetUnknownUserIsZero(t *testing.T) {
	tracker := newTestTracker()

	usage, err := tracker.GetUsage(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, usage.APICalls)
	assert.Zero(t, usage.StorageBytes)
}

func TestTracker_CheckLimit(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()
	userID := uuid.New()

	within, err := tracker.CheckLimit(ctx, userID, "price_starter")
	require.NoError(t, err)
	assert.True(t, within, "fresh user is within limits")

	require.NoError(t, tracker.Track(ctx, userID, domain.MetricAPICalls, 1_000))
	within, err = tracker.CheckLimit(ctx, userID, "price_starter")
	require.NoError(t, err)
	assert.True(t, within, "at the limit still counts as within")

	require.NoError(t, tracker.Track(ctx, userID, domain.MetricAPICalls, 1))
	within, err = tracker.CheckLimit(ctx, userID, "price_starter")
	require.NoError(t, err)
	assert.False(t, within)
}

func TestTracker_CheckLimitStorageIsMegabytes(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()
	userID := uuid.New()

	// starter allows 100 MB
	require.NoError(t, tracker.Track(ctx, userID, domain.MetricStorageBytes, 100*1024*1024))
	within, err := tracker.CheckLimit(ctx, userID, "price_starter")
	require.NoError(t, err)
	assert.True(t, within)

	require.NoError(t, tracker.Track(ctx, userID, domain.MetricStorageBytes, 1))
	within, err = tracker.CheckLimit(ctx, userID, "price_starter")
	require.NoError(t, err)
	assert.False(t, within)
}

func TestTracker_CheckLimitUnknownPlanFailsClosed(t *testing.T) {
	tracker := newTestTracker()

	within, err := tracker.CheckLimit(context.Background(), uuid.New(), "price_legacy")
	require.NoError(t, err)
	assert.False(t, within)
}

func TestTracker_TopUsers(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	heavy := uuid.New()
	light := uuid.New()
	require.NoError(t, tracker.Track(ctx, heavy, domain.MetricAPICalls, 50))
	require.NoError(t, tracker.Track(ctx, light, domain.MetricAPICalls, 5))
	require.NoError(t, tracker.Track(ctx, uuid.New(), domain.MetricStorageBytes, 999))

	top, err := tracker.TopUsers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, heavy, top[0].UserID)
	assert.Equal(t, int64(50), top[0].APICalls)
	assert.Equal(t, light, top[1].UserID)
}

func TestTracker_ResetZeroesCounters(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, tracker.Track(ctx, userID, domain.MetricAPICalls, 10))
	require.NoError(t, tracker.Reset(ctx, userID))

	usage, err := tracker.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, usage.APICalls)

	top, err := tracker.TopUsers(ctx, 10)
	require.NoError(t, err)
	for _, entry := range top {
		if entry.UserID == userID {
			assert.Zero(t, entry.APICalls)
		}
	}
}

func TestTracker_PurgeRemovesUser(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, tracker.Track(ctx, userID, domain.MetricAPICalls, 10))
	require.NoError(t, tracker.Purge(ctx, userID))

	top, err := tracker.TopUsers(ctx, 10)
	require.NoError(t, err)
	for _, entry := range top {
		assert.NotEqual(t, userID, entry.UserID, "purged user must leave the leaderboard")
	}
}
