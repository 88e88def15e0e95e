package app

import (
	"context"
	"math"
	"sort"
	"time"

	"eco-points-service/internal/domain"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// LeaderboardSource produces a leaderboard page for a resolved scope. The
// builder computes pages from the store; caches in infra wrap a builder.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, scope domain.Scope, limit int) (domain.Leaderboard, error)
}

// LeaderboardBuilder computes leaderboard pages straight from the user store.
type LeaderboardBuilder struct {
	users UserRepository
	now   func() time.Time
}

func NewLeaderboardBuilder(users UserRepository) *LeaderboardBuilder {
	return &LeaderboardBuilder{users: users, now: time.Now}
}

// Leaderboard returns the top limit students of scope. Ranks are positions
// within the returned page.
func (b *LeaderboardBuilder) Leaderboard(ctx context.Context, scope domain.Scope, limit int) (domain.Leaderboard, error) {
	students, err := b.users.ListStudents(ctx, scope)
	if err != nil {
		return domain.Leaderboard{}, storeErr("list students", err)
	}
	return domain.Leaderboard{
		Scope:     scope.Kind,
		SchoolID:  scope.SchoolID,
		Entries:   topStudents(students, limit),
		UpdatedAt: b.now(),
	}, nil
}

// topStudents sorts by the ranking key, then user id so pages are stable.
func topStudents(students []domain.User, limit int) []domain.LeaderboardEntry {
	sorted := make([]domain.User, 0, len(students))
	for _, u := range students {
		if u.IsStudent() {
			sorted = append(sorted, u)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if domain.Precedes(*a.Student, *b.Student) {
			return true
		}
		if domain.Precedes(*b.Student, *a.Student) {
			return false
		}
		return a.ID < b.ID
	})
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, u := range sorted {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:              u.ID,
			Name:                u.Name,
			Grade:               u.Student.Grade,
			EcoPoints:           u.Student.EcoPoints,
			ChallengesCompleted: u.Student.ChallengesCompleted,
			QuizzesTaken:        u.Student.QuizzesTaken,
			BadgeCount:          len(u.Student.Badges),
			Rank:                i + 1,
		})
	}
	return entries
}

// RankingService answers rank and leaderboard queries for an actor.
type RankingService struct {
	users        UserRepository
	boards       LeaderboardSource
	defaultLimit int
	maxLimit     int
}

func NewRankingService(users UserRepository, boards LeaderboardSource, defaultLimit, maxLimit int) *RankingService {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLeaderboardLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxLeaderboardLimit
	}
	return &RankingService{users: users, boards: boards, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// ResolveScope turns a scope kind into a population for actor. Students are
// scoped to their own school, school accounts to themselves.
func (r *RankingService) ResolveScope(ctx context.Context, actor domain.Actor, kind domain.ScopeKind) (domain.Scope, error) {
	if kind == domain.ScopeGlobal {
		return domain.Scope{Kind: domain.ScopeGlobal}, nil
	}
	switch actor.Role {
	case domain.RoleSchool:
		return domain.Scope{Kind: domain.ScopeSchool, SchoolID: actor.ID}, nil
	case domain.RoleStudent:
		user, err := r.users.GetUser(ctx, actor.ID)
		if err != nil {
			return domain.Scope{}, storeErr("load student", err)
		}
		if !user.IsStudent() {
			return domain.Scope{}, domain.ErrNotStudent
		}
		return domain.Scope{Kind: domain.ScopeSchool, SchoolID: user.Student.SchoolID}, nil
	}
	return domain.Scope{}, domain.ErrForbidden
}

// Leaderboard returns the top students of the actor's scope. limit <= 0
// selects the default page size; larger limits are capped.
func (r *RankingService) Leaderboard(ctx context.Context, actor domain.Actor, kind domain.ScopeKind, limit int) (domain.Leaderboard, error) {
	scope, err := r.ResolveScope(ctx, actor, kind)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return r.boards.Leaderboard(ctx, scope, r.clampLimit(limit))
}

func (r *RankingService) clampLimit(limit int) int {
	if limit <= 0 {
		return r.defaultLimit
	}
	return min(limit, r.maxLimit)
}

// Rank computes the acting student's position. Ranks are computed from the
// store, never from a cached page.
func (r *RankingService) Rank(ctx context.Context, actor domain.Actor, kind domain.ScopeKind) (domain.RankResult, error) {
	if actor.Role != domain.RoleStudent {
		return domain.RankResult{}, domain.ErrNotStudent
	}
	scope, err := r.ResolveScope(ctx, actor, kind)
	if err != nil {
		return domain.RankResult{}, err
	}
	students, err := r.users.ListStudents(ctx, scope)
	if err != nil {
		return domain.RankResult{}, storeErr("list students", err)
	}

	var self *domain.User
	for i := range students {
		if students[i].ID == actor.ID {
			self = &students[i]
			break
		}
	}
	if self == nil || !self.IsStudent() {
		return domain.RankResult{}, domain.ErrUserNotFound
	}

	rank, total := RankWithin(*self, students)
	return domain.RankResult{
		Scope:               scope.Kind,
		Rank:                rank,
		TotalInScope:        total,
		Percentile:          Percentile(rank, total),
		EcoPoints:           self.Student.EcoPoints,
		ChallengesCompleted: self.Student.ChallengesCompleted,
		QuizzesTaken:        self.Student.QuizzesTaken,
	}, nil
}

// RankWithin returns 1 + the number of students strictly ahead of self, and
// the number of students in the population.
func RankWithin(self domain.User, population []domain.User) (rank, total int) {
	rank = 1
	for _, other := range population {
		if !other.IsStudent() {
			continue
		}
		total++
		if other.ID != self.ID && domain.Precedes(*other.Student, *self.Student) {
			rank++
		}
	}
	return rank, total
}

// Percentile is the share of the scope ranked below rank; 0 for an empty scope.
func Percentile(rank, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(total-rank) / float64(total)))
}
