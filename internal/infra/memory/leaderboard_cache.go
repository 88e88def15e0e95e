package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"eco-points-service/internal/app"
	"eco-points-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// LeaderboardCache caches leaderboard pages with TTL to avoid rescanning the
// student population on every request.
type LeaderboardCache struct {
	source app.LeaderboardSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand

	mu    sync.RWMutex
	gen   uint64
	cache map[string]cachedBoard
}

type cachedBoard struct {
	board     domain.Leaderboard
	expiresAt time.Time
}

func NewLeaderboardCache(source app.LeaderboardSource, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBoard),
	}
}

func (c *LeaderboardCache) Leaderboard(ctx context.Context, scope domain.Scope, limit int) (domain.Leaderboard, error) {
	key := boardKey(scope, limit)
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.board, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(fmt.Sprintf("%d|%s", gen, key), func() (interface{}, error) {
		board, err := c.source.Leaderboard(ctx, scope, limit)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		expiresAt := c.clock().Add(c.ttlWithJitter())
		c.mu.Lock()
		// A page computed before an invalidation must not be cached after it.
		if c.gen == gen {
			c.cache[key] = cachedBoard{board: board, expiresAt: expiresAt}
		}
		c.mu.Unlock()
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

// Invalidate drops every cached page.
func (c *LeaderboardCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.gen++
	c.cache = make(map[string]cachedBoard)
	c.mu.Unlock()
	return nil
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func boardKey(scope domain.Scope, limit int) string {
	return fmt.Sprintf("%s:%s:%d", scope.Kind, scope.SchoolID, limit)
}
