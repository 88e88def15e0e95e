package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eco-points-service/internal/app"
	"eco-points-service/internal/domain"
	"eco-points-service/internal/infra/memory"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

var (
	studentActor = domain.Actor{ID: "s1", Role: domain.RoleStudent}
	schoolActor  = domain.Actor{ID: "school-1", Role: domain.RoleSchool}
)

// newTestStore seeds two schools, three students, a few challenges in
// different states and two quizzes.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	past := testNow.Add(-24 * time.Hour)
	future := testNow.Add(24 * time.Hour)
	ended := testNow.Add(-time.Minute)

	mustCreateUser(t, store, domain.User{ID: "school-1", Name: "Green Valley", Role: domain.RoleSchool, School: &domain.SchoolProfile{}})
	mustCreateUser(t, store, domain.User{ID: "school-2", Name: "Riverside", Role: domain.RoleSchool, School: &domain.SchoolProfile{}})
	mustCreateUser(t, store, newStudent("s1", "school-1", "8", 0))
	mustCreateUser(t, store, newStudent("s2", "school-1", "9", 0))
	mustCreateUser(t, store, newStudent("s3", "school-2", "8", 0))

	challenges := []domain.Challenge{
		{ID: "ch-1", Title: "Plant a tree", Points: 150, Difficulty: domain.DifficultyMedium, Category: "biodiversity", SchoolID: "school-1", StartDate: past, IsActive: true},
		{ID: "ch-inactive", Title: "Paused", Points: 10, SchoolID: "school-1", StartDate: past, IsActive: false},
		{ID: "ch-future", Title: "Next week", Points: 10, SchoolID: "school-1", StartDate: future, IsActive: true},
		{ID: "ch-ended", Title: "Last month", Points: 10, SchoolID: "school-1", StartDate: past, EndDate: &ended, IsActive: true},
		{ID: "ch-other", Title: "Riverside only", Points: 10, SchoolID: "school-2", StartDate: past, IsActive: true},
	}
	for _, c := range challenges {
		if _, err := store.CreateChallenge(ctx, c); err != nil {
			t.Fatalf("create challenge %s: %v", c.ID, err)
		}
	}

	quizzes := []domain.Quiz{
		{
			ID: "quiz-1", Title: "Recycling basics", Points: 30, PassingScore: 60,
			SchoolID: "school-1", StartDate: past, IsActive: true,
			Questions: []domain.Question{
				{Prompt: "q1", Options: []string{"a", "b", "c"}, CorrectOption: 0},
				{Prompt: "q2", Options: []string{"a", "b", "c"}, CorrectOption: 1},
				{Prompt: "q3", Options: []string{"a", "b", "c"}, CorrectOption: 2},
			},
		},
		{ID: "quiz-empty", Title: "Draft", Points: 10, SchoolID: "school-1", StartDate: past, IsActive: true},
	}
	for _, q := range quizzes {
		if _, err := store.CreateQuiz(ctx, q); err != nil {
			t.Fatalf("create quiz %s: %v", q.ID, err)
		}
	}
	return store
}

func newStudent(id, schoolID, grade string, points int) domain.User {
	return domain.User{
		ID:      id,
		Name:    "Student " + id,
		Role:    domain.RoleStudent,
		Student: &domain.StudentProfile{SchoolID: schoolID, Grade: grade, EcoPoints: points},
	}
}

func mustCreateUser(t *testing.T, store *memory.Store, u domain.User) {
	t.Helper()
	if _, err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", u.ID, err)
	}
}

func mustGetUser(t *testing.T, store *memory.Store, id string) domain.User {
	t.Helper()
	u, err := store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return u
}

func newTestService(store app.Store, opts ...app.ScoringOption) *app.ScoringService {
	opts = append([]app.ScoringOption{app.WithClock(fixedClock)}, opts...)
	return app.NewScoringService(store, zap.NewNop(), opts...)
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingInvalidator) Invalidate(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *recordingInvalidator) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type observation struct {
	kind   domain.ActivityKind
	err    error
	points int
	badges int
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingObserver) ObserveScoring(kind domain.ActivityKind, err error, points int, badges []domain.Badge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{kind: kind, err: err, points: points, badges: len(badges)})
}

// failingUserStore fails every user update while failUpdates is set.
type failingUserStore struct {
	*memory.Store
	failUpdates bool
}

func (f *failingUserStore) UpdateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if f.failUpdates {
		return domain.User{}, errors.New("connection reset")
	}
	return f.Store.UpdateUser(ctx, u)
}
