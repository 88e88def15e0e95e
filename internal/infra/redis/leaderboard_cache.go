package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"eco-points-service/internal/app"
	"eco-points-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const generationKey = "leaderboard:gen"

// LeaderboardCache stores leaderboard pages as JSON strings in Redis and
// falls back to the source on a miss. Pages live under a generation number:
// SET leaderboard:{gen}:{scope}:{school}:{limit} <json> EX ttl
// Invalidate bumps the generation with INCR so every old page becomes
// unreachable at once and expires on its own.
type LeaderboardCache struct {
	client *redis.Client
	source app.LeaderboardSource
	ttl    time.Duration
	logger *zap.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewLeaderboardCache(client *redis.Client, source app.LeaderboardSource, ttl time.Duration, logger *zap.Logger) *LeaderboardCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaderboardCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Leaderboard serves a page from Redis or the source. A non-positive TTL
// disables caching; SET without expiry would keep stale generations forever.
func (c *LeaderboardCache) Leaderboard(ctx context.Context, scope domain.Scope, limit int) (domain.Leaderboard, error) {
	if c.ttl <= 0 {
		return c.source.Leaderboard(ctx, scope, limit)
	}
	gen, err := c.generation(ctx)
	if err != nil {
		// Redis being down must not take the leaderboard with it.
		c.logger.Warn("leaderboard cache unavailable", zap.Error(err))
		return c.source.Leaderboard(ctx, scope, limit)
	}
	key := pageKey(gen, scope, limit)

	if board, ok := c.lookup(ctx, key); ok {
		return board, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if board, ok := c.lookup(ctx, key); ok {
			return board, nil
		}

		board, err := c.source.Leaderboard(ctx, scope, limit)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		raw, err := json.Marshal(board)
		if err != nil {
			return board, nil
		}
		if err := c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err(); err != nil {
			c.logger.Warn("leaderboard cache write failed", zap.String("key", key), zap.Error(err))
		}
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

// Invalidate moves every reader to a fresh generation.
func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("bump leaderboard generation: %w", err)
	}
	return nil
}

func (c *LeaderboardCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *LeaderboardCache) lookup(ctx context.Context, key string) (domain.Leaderboard, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Leaderboard{}, false
	}
	var board domain.Leaderboard
	if err := json.Unmarshal(raw, &board); err != nil {
		return domain.Leaderboard{}, false
	}
	return board, true
}

func pageKey(gen int64, scope domain.Scope, limit int) string {
	return fmt.Sprintf("leaderboard:%d:%s:%s:%d", gen, scope.Kind, scope.SchoolID, limit)
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
