package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"eco-points-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. Updates are
// conditional on the entity version, matching the Postgres store.
type Store struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	challenges map[string]domain.Challenge
	quizzes    map[string]domain.Quiz
	activity   map[string][]domain.ActivityLog
}

func NewStore() *Store {
	return &Store{
		users:      make(map[string]domain.User),
		challenges: make(map[string]domain.Challenge),
		quizzes:    make(map[string]domain.Quiz),
		activity:   make(map[string][]domain.ActivityLog),
	}
}

func (s *Store) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *Store) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return domain.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	u.Version = 1
	s.users[u.ID] = u.Clone()
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[u.ID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	if current.Version != u.Version {
		return domain.User{}, domain.ErrConflict
	}
	u.Version++
	s.users[u.ID] = u.Clone()
	return u, nil
}

func (s *Store) ListStudents(_ context.Context, scope domain.Scope) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0)
	for _, u := range s.users {
		if !u.IsStudent() {
			continue
		}
		if scope.Kind == domain.ScopeSchool && u.Student.SchoolID != scope.SchoolID {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetChallenge(_ context.Context, id string) (domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[id]
	if !ok {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	return c.Clone(), nil
}

func (s *Store) CreateChallenge(_ context.Context, c domain.Challenge) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[c.ID]; ok {
		return domain.Challenge{}, fmt.Errorf("challenge %s already exists", c.ID)
	}
	c.Version = 1
	s.challenges[c.ID] = c.Clone()
	return c, nil
}

func (s *Store) UpdateChallenge(_ context.Context, c domain.Challenge) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.challenges[c.ID]
	if !ok {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if current.Version != c.Version {
		return domain.Challenge{}, domain.ErrConflict
	}
	c.Version++
	s.challenges[c.ID] = c.Clone()
	return c, nil
}

func (s *Store) ListChallenges(_ context.Context, schoolID string) ([]domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Challenge, 0)
	for _, c := range s.challenges {
		if c.SchoolID == schoolID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetQuiz(_ context.Context, id string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quizzes[id]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return q.Clone(), nil
}

func (s *Store) CreateQuiz(_ context.Context, q domain.Quiz) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[q.ID]; ok {
		return domain.Quiz{}, fmt.Errorf("quiz %s already exists", q.ID)
	}
	q.Version = 1
	s.quizzes[q.ID] = q.Clone()
	return q, nil
}

func (s *Store) UpdateQuiz(_ context.Context, q domain.Quiz) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.quizzes[q.ID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if current.Version != q.Version {
		return domain.Quiz{}, domain.ErrConflict
	}
	q.Version++
	s.quizzes[q.ID] = q.Clone()
	return q, nil
}

func (s *Store) ListQuizzes(_ context.Context, schoolID string) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quiz, 0)
	for _, q := range s.quizzes {
		if q.SchoolID == schoolID {
			out = append(out, q.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AppendActivity(_ context.Context, entry domain.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[entry.UserID] = append(s.activity[entry.UserID], entry)
	return nil
}

func (s *Store) ListActivity(_ context.Context, userID string, limit int) ([]domain.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.activity[userID]
	out := make([]domain.ActivityLog, 0, min(len(entries), max(limit, 0)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// StudentLedger sums the student's completed participations and quiz
// submissions.
func (s *Store) StudentLedger(_ context.Context, studentID string) (domain.LedgerTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var totals domain.LedgerTotals
	for _, c := range s.challenges {
		for _, p := range c.Participants {
			if p.StudentID == studentID && p.Status == domain.StatusCompleted {
				totals.EcoPoints += p.PointsEarned
				totals.ChallengesCompleted++
			}
		}
	}
	for _, q := range s.quizzes {
		for _, sub := range q.Submissions {
			if sub.StudentID == studentID {
				totals.EcoPoints += sub.Score
				totals.QuizzesTaken++
			}
		}
	}
	return totals, nil
}
