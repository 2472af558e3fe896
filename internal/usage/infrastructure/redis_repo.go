// Package infrastructure provides the Redis-backed usage counter store.
package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vantagecommodities/vantage/internal/usage/domain"
)

const (
	usageKeyPrefix   = "usage:"
	leaderboardKey   = "usage:leaderboard:api_calls"
	fieldLastUpdated = "last_updated"
)

// RedisRepository keeps each user's counters in a hash and the api-call
// leaderboard in a sorted set. HINCRBY gives the atomic increment the
// contract requires.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func usageKey(userID uuid.UUID) string {
	return usageKeyPrefix + userID.String()
}

func (r *RedisRepository) Increment(ctx context.Context, userID uuid.UUID, metric string, delta int64) error {
	key := usageKey(userID)

	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, metric, delta)
	pipe.HSet(ctx, key, fieldLastUpdated, time.Now().UTC().Format(time.RFC3339Nano))
	if metric == domain.MetricAPICalls {
		pipe.ZIncrBy(ctx, leaderboardKey, float64(delta), userID.String())
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment %s: %w", metric, err)
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Metrics, error) {
	fields, err := r.client.HGetAll(ctx, usageKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage counters: %w", err)
	}

	metrics := &domain.Metrics{}
	for field, value := range fields {
		switch field {
		case domain.MetricAPICalls:
			metrics.APICalls = parseCounter(value)
		case domain.MetricStorageBytes:
			metrics.StorageBytes = parseCounter(value)
		case domain.MetricActiveUsers:
			metrics.ActiveUsers = parseCounter(value)
		case fieldLastUpdated:
			if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
				metrics.LastUpdated = t
			}
		}
	}
	return metrics, nil
}

func (r *RedisRepository) Reset(ctx context.Context, userID uuid.UUID) error {
	key := usageKey(userID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		domain.MetricAPICalls, 0,
		domain.MetricStorageBytes, 0,
		domain.MetricActiveUsers, 0,
		fieldLastUpdated, time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: 0, Member: userID.String()})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reset usage counters: %w", err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, usageKey(userID))
	pipe.ZRem(ctx, leaderboardKey, userID.String())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete usage counters: %w", err)
	}
	return nil
}

func (r *RedisRepository) TopByAPICalls(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	members, err := r.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, member := range members {
		raw, ok := member.Member.(string)
		if !ok {
			continue
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			UserID:   userID,
			APICalls: int64(member.Score),
		})
	}
	return entries, nil
}

func parseCounter(value string) int64 {
	n, _ := strconv.ParseInt(value, 10, 64)
	return n
}
