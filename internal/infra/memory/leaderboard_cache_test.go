package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eco-points-service/internal/domain"
)

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
}

func (s *countingSource) Leaderboard(_ context.Context, scope domain.Scope, limit int) (domain.Leaderboard, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return domain.Leaderboard{Scope: scope.Kind, SchoolID: scope.SchoolID, Entries: []domain.LeaderboardEntry{{UserID: "s1", Rank: 1}}}, nil
}

var schoolScope = domain.Scope{Kind: domain.ScopeSchool, SchoolID: "school-1"}

func TestLeaderboardCacheHitsUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	cache := NewLeaderboardCache(src, time.Minute)

	for i := 0; i < 3; i++ {
		board, err := cache.Leaderboard(ctx, schoolScope, 10)
		if err != nil {
			t.Fatalf("leaderboard: %v", err)
		}
		if board.SchoolID != "school-1" {
			t.Fatalf("unexpected board %+v", board)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected one source call, got %d", got)
	}

	if _, err := cache.Leaderboard(ctx, schoolScope, 5); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("a different limit is a different page, got %d calls", got)
	}

	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.Leaderboard(ctx, schoolScope, 10); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if got := src.calls.Load(); got != 3 {
		t.Fatalf("expected reload after invalidate, got %d calls", got)
	}
}

func TestLeaderboardCacheExpires(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	cache := NewLeaderboardCache(src, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	_, _ = cache.Leaderboard(ctx, schoolScope, 10)
	now = now.Add(50 * time.Second)
	_, _ = cache.Leaderboard(ctx, schoolScope, 10)
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected cached page before ttl, got %d calls", got)
	}

	now = now.Add(20 * time.Second)
	_, _ = cache.Leaderboard(ctx, schoolScope, 10)
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("expected reload after ttl and jitter, got %d calls", got)
	}
}

func TestLeaderboardCacheCollapsesConcurrentMisses(t *testing.T) {
	src := &countingSource{delay: 50 * time.Millisecond}
	cache := NewLeaderboardCache(src, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Leaderboard(context.Background(), schoolScope, 10); err != nil {
				t.Errorf("leaderboard: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected concurrent misses to share one load, got %d", got)
	}
}
