package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"eco-points-service/internal/app"
	"eco-points-service/internal/domain"
)

func TestCompleteChallengeAwardsPointsAndFirstBadge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cache := &recordingInvalidator{}
	service := newTestService(store, app.WithLeaderboardInvalidator(cache))

	res, err := service.CompleteChallenge(ctx, studentActor, "ch-1")
	if err != nil {
		t.Fatalf("complete challenge: %v", err)
	}
	if res.PointsEarned != 150 || res.TotalPoints != 150 || res.ChallengesCompleted != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.NewBadges) != 1 || res.NewBadges[0].ID != "first-steps" {
		t.Fatalf("expected first-steps badge, got %+v", res.NewBadges)
	}

	user := mustGetUser(t, store, "s1")
	if user.Student.EcoPoints != 150 || !user.Student.HasBadge("first-steps") {
		t.Fatalf("student not updated: %+v", user.Student)
	}
	if !user.Student.Badges[0].EarnedAt.Equal(testNow) {
		t.Fatalf("expected badge earned at clock time, got %v", user.Student.Badges[0].EarnedAt)
	}

	ch, _ := store.GetChallenge(ctx, "ch-1")
	if !ch.CompletedBy("s1") || ch.CompletedCount != 1 || ch.TotalParticipants != 1 {
		t.Fatalf("challenge not updated: %+v", ch)
	}
	if p := ch.Participants[0]; p.PointsEarned != 150 || p.CompletedAt == nil {
		t.Fatalf("unexpected participation: %+v", p)
	}

	feed, _ := store.ListActivity(ctx, "s1", 10)
	if len(feed) != 2 {
		t.Fatalf("expected challenge and badge entries, got %d", len(feed))
	}
	if feed[0].Kind != domain.ActivityBadge || feed[0].PointsEarned != 0 || feed[0].Title != "Badge Earned: First Steps" {
		t.Fatalf("unexpected badge entry: %+v", feed[0])
	}
	if feed[1].Kind != domain.ActivityChallenge || feed[1].Metadata["difficulty"] != "medium" || feed[1].Metadata["schoolId"] != "school-1" {
		t.Fatalf("unexpected challenge entry: %+v", feed[1])
	}
	if cache.Calls() != 1 {
		t.Fatalf("expected one cache invalidation, got %d", cache.Calls())
	}
}

func TestCompleteChallengeTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	service := newTestService(store)

	if _, err := service.CompleteChallenge(ctx, studentActor, "ch-1"); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	_, err := service.CompleteChallenge(ctx, studentActor, "ch-1")
	if !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}

	user := mustGetUser(t, store, "s1")
	if user.Student.EcoPoints != 150 || user.Student.ChallengesCompleted != 1 {
		t.Fatalf("second completion changed totals: %+v", user.Student)
	}
	feed, _ := store.ListActivity(ctx, "s1", 10)
	if len(feed) != 2 {
		t.Fatalf("second completion logged activity: %d entries", len(feed))
	}
}

func TestCompleteChallengePreconditions(t *testing.T) {
	cases := []struct {
		name        string
		actor       domain.Actor
		challengeID string
		want        error
	}{
		{"unknown challenge", studentActor, "missing", domain.ErrNotFound},
		{"inactive", studentActor, "ch-inactive", domain.ErrExpiredOrInactive},
		{"not started", studentActor, "ch-future", domain.ErrExpiredOrInactive},
		{"ended", studentActor, "ch-ended", domain.ErrExpiredOrInactive},
		{"other school", studentActor, "ch-other", domain.ErrForbidden},
		{"school actor", schoolActor, "ch-1", domain.ErrForbidden},
		{"unknown student", domain.Actor{ID: "ghost", Role: domain.RoleStudent}, "ch-1", domain.ErrNotFound},
		{"school id with student role", domain.Actor{ID: "school-1", Role: domain.RoleStudent}, "ch-1", domain.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			obs := &recordingObserver{}
			service := newTestService(store, app.WithScoringObserver(obs))

			_, err := service.CompleteChallenge(context.Background(), tc.actor, tc.challengeID)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(obs.obs) != 1 || obs.obs[0].err == nil {
				t.Fatalf("expected one failed observation, got %+v", obs.obs)
			}
			if u, err := store.GetUser(context.Background(), "s1"); err == nil && u.Student.EcoPoints != 0 {
				t.Fatalf("failed completion changed points: %d", u.Student.EcoPoints)
			}
		})
	}
}

func TestSubmitQuizScoresPositionally(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	service := newTestService(store)

	res, err := service.SubmitQuiz(ctx, studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 9}})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if res.CorrectAnswers != 2 || res.TotalQuestions != 3 || res.Percentage != 67 {
		t.Fatalf("unexpected score: %+v", res)
	}
	if res.PointsEarned != 20 || res.Score != 20 || res.TotalPoints != 20 || res.QuizzesTaken != 1 {
		t.Fatalf("unexpected points: %+v", res)
	}
	if !res.Passed {
		t.Fatalf("67%% should pass a 60%% quiz")
	}

	quiz, _ := store.GetQuiz(ctx, "quiz-1")
	if len(quiz.Submissions) != 1 || quiz.CompletedCount != 1 || quiz.AverageScore != 20 {
		t.Fatalf("quiz not updated: %+v", quiz)
	}
	feed, _ := store.ListActivity(ctx, "s1", 10)
	if len(feed) != 1 || feed[0].Description != "Quiz completed with 67% score" {
		t.Fatalf("unexpected activity: %+v", feed)
	}
}

func TestSubmitQuizAllCorrectAndAllWrong(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	service := newTestService(store)

	best, err := service.SubmitQuiz(ctx, studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 2}})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if best.Percentage != 100 || best.PointsEarned != 30 {
		t.Fatalf("expected full marks, got %+v", best)
	}

	worst, err := service.SubmitQuiz(ctx, domain.Actor{ID: "s2", Role: domain.RoleStudent}, "quiz-1",
		domain.QuizSubmission{Answers: []int{2, 2, 0}})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if worst.Percentage != 0 || worst.PointsEarned != 0 || worst.Passed {
		t.Fatalf("expected zero score, got %+v", worst)
	}
	if worst.QuizzesTaken != 1 {
		t.Fatalf("a failed quiz still counts as taken, got %d", worst.QuizzesTaken)
	}

	quiz, _ := store.GetQuiz(ctx, "quiz-1")
	if quiz.AverageScore != 15 || quiz.TotalParticipants != 2 {
		t.Fatalf("unexpected aggregates: avg=%d participants=%d", quiz.AverageScore, quiz.TotalParticipants)
	}
}

func TestSubmitQuizShortAnswerListLeavesRestUnanswered(t *testing.T) {
	store := newTestStore(t)
	service := newTestService(store)

	res, err := service.SubmitQuiz(context.Background(), studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0}})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if res.CorrectAnswers != 1 || res.Percentage != 33 || res.PointsEarned != 10 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitQuizIgnoresAnswersPastLastQuestion(t *testing.T) {
	store := newTestStore(t)
	service := newTestService(store)

	res, err := service.SubmitQuiz(context.Background(), studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 2, 7}})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if res.CorrectAnswers != 3 || res.TotalQuestions != 3 || res.Percentage != 100 || res.PointsEarned != 30 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitQuizRejectsInvalidAnswers(t *testing.T) {
	cases := []struct {
		name    string
		quizID  string
		answers []int
	}{
		{"missing answers", "quiz-1", nil},
		{"quiz without questions", "quiz-empty", []int{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			service := newTestService(store)
			_, err := service.SubmitQuiz(context.Background(), studentActor, tc.quizID, domain.QuizSubmission{Answers: tc.answers})
			if !errors.Is(err, domain.ErrInvalidAnswers) {
				t.Fatalf("expected invalid answers, got %v", err)
			}
			if u := mustGetUser(t, store, "s1"); u.Student.QuizzesTaken != 0 {
				t.Fatalf("rejected submission counted")
			}
		})
	}
}

func TestSubmitQuizTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	service := newTestService(store)

	if _, err := service.SubmitQuiz(ctx, studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 0, 0}}); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	_, err := service.SubmitQuiz(ctx, studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 2}})
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
	if u := mustGetUser(t, store, "s1"); u.Student.EcoPoints != 10 {
		t.Fatalf("resubmission changed points: %d", u.Student.EcoPoints)
	}
}

func TestSubmitQuizForbiddenAcrossSchools(t *testing.T) {
	store := newTestStore(t)
	service := newTestService(store)
	_, err := service.SubmitQuiz(context.Background(), domain.Actor{ID: "s3", Role: domain.RoleStudent}, "quiz-1",
		domain.QuizSubmission{Answers: []int{0}})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestBadgesAreAwardedOnceAndKept(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreateUser(t, store, domain.User{
		ID:   "veteran",
		Name: "Veteran",
		Role: domain.RoleStudent,
		Student: &domain.StudentProfile{
			SchoolID:  "school-1",
			EcoPoints: 400,
			Badges:    []domain.EarnedBadge{{Badge: mustBadge(t, "first-steps")}},
		},
	})
	service := newTestService(store)
	veteran := domain.Actor{ID: "veteran", Role: domain.RoleStudent}

	res, err := service.CompleteChallenge(ctx, veteran, "ch-1")
	if err != nil {
		t.Fatalf("complete challenge: %v", err)
	}
	if len(res.NewBadges) != 1 || res.NewBadges[0].ID != "eco-warrior" {
		t.Fatalf("expected only eco-warrior, got %+v", res.NewBadges)
	}

	quizRes, err := service.SubmitQuiz(ctx, veteran, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 2}})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if len(quizRes.NewBadges) != 0 {
		t.Fatalf("badges re-awarded: %+v", quizRes.NewBadges)
	}

	u := mustGetUser(t, store, "veteran")
	if len(u.Student.Badges) != 2 || !u.Student.HasBadge("first-steps") || !u.Student.HasBadge("eco-warrior") {
		t.Fatalf("unexpected badges: %+v", u.Student.Badges)
	}
}

func TestConcurrentCompletionsAwardOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	service := newTestService(store)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.CompleteChallenge(ctx, studentActor, "ch-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrAlreadyCompleted):
				dupes++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || dupes != workers-1 || len(others) != 0 {
		t.Fatalf("expected one success, got successes=%d dupes=%d others=%v", successes, dupes, others)
	}
	u := mustGetUser(t, store, "s1")
	if u.Student.EcoPoints != 150 || u.Student.ChallengesCompleted != 1 || len(u.Student.Badges) != 1 {
		t.Fatalf("double award: %+v", u.Student)
	}
}

func TestConcurrentAwardsToOneStudentAllLand(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	const n = 6
	for i := 0; i < n; i++ {
		_, err := store.CreateChallenge(ctx, domain.Challenge{
			ID: fmt.Sprintf("bulk-%d", i), Title: "bulk", Points: 20, SchoolID: "school-1",
			StartDate: testNow.Add(-time.Hour), IsActive: true,
		})
		if err != nil {
			t.Fatalf("create challenge: %v", err)
		}
	}
	service := newTestService(store, app.WithMaxAttempts(n+1))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := service.CompleteChallenge(ctx, studentActor, fmt.Sprintf("bulk-%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("completion failed: %v", err)
	}

	u := mustGetUser(t, store, "s1")
	if u.Student.EcoPoints != n*20 || u.Student.ChallengesCompleted != n {
		t.Fatalf("lost update: %+v", u.Student)
	}
	starters := 0
	for _, b := range u.Student.Badges {
		if b.ID == "challenge-starter" {
			starters++
		}
	}
	if starters != 1 {
		t.Fatalf("expected challenge-starter once, got %d", starters)
	}
}

func TestDerivedLedgerRepairsDriftedTotals(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// s1 holds a completed participation the running total never saw.
	_, err := store.CreateChallenge(ctx, domain.Challenge{
		ID: "ch-prev", Title: "Earlier", Points: 100, SchoolID: "school-1",
		StartDate: testNow.Add(-48 * time.Hour), IsActive: true,
		Participants: []domain.Participation{{StudentID: "s1", Status: domain.StatusCompleted, PointsEarned: 100}},
	})
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	derived := newTestService(store, app.WithLedgerStrategy(app.LedgerDerived))
	res, err := derived.CompleteChallenge(ctx, studentActor, "ch-1")
	if err != nil {
		t.Fatalf("complete challenge: %v", err)
	}
	if res.TotalPoints != 250 || res.ChallengesCompleted != 2 {
		t.Fatalf("expected totals derived from records, got %+v", res)
	}
}

func TestDerivedLedgerKeepsTotalsAboveRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Imported points with no participation records behind them.
	u := mustGetUser(t, store, "s1")
	u.Student.EcoPoints = 400
	if _, err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("update user: %v", err)
	}

	derived := newTestService(store, app.WithLedgerStrategy(app.LedgerDerived))
	res, err := derived.CompleteChallenge(ctx, studentActor, "ch-1")
	if err != nil {
		t.Fatalf("complete challenge: %v", err)
	}
	if res.PointsEarned != 150 || res.TotalPoints != 550 || res.ChallengesCompleted != 1 {
		t.Fatalf("award must add to imported totals, got %+v", res)
	}

	quiz, err := derived.SubmitQuiz(ctx, studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 2}})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if quiz.TotalPoints != 580 || quiz.QuizzesTaken != 1 {
		t.Fatalf("unexpected quiz totals: %+v", quiz)
	}
}

func TestFailedAwardReleasesChallengeClaim(t *testing.T) {
	for _, strategy := range []app.LedgerStrategy{app.LedgerRunningTotal, app.LedgerDerived} {
		t.Run(string(strategy), func(t *testing.T) {
			ctx := context.Background()
			store := &failingUserStore{Store: newTestStore(t), failUpdates: true}
			service := newTestService(store, app.WithLedgerStrategy(strategy))

			_, err := service.CompleteChallenge(ctx, studentActor, "ch-1")
			if !errors.Is(err, domain.ErrInternal) {
				t.Fatalf("expected internal failure, got %v", err)
			}
			ch, _ := store.GetChallenge(ctx, "ch-1")
			if ch.CompletedBy("s1") || ch.CompletedCount != 0 || len(ch.Participants) != 0 {
				t.Fatalf("claim not released: %+v", ch.Participants)
			}

			store.failUpdates = false
			res, err := service.CompleteChallenge(ctx, studentActor, "ch-1")
			if err != nil {
				t.Fatalf("retry after failure: %v", err)
			}
			if res.TotalPoints != 150 || res.ChallengesCompleted != 1 {
				t.Fatalf("unexpected retry result: %+v", res)
			}
		})
	}
}

func TestFailedAwardRestoresEnrolledParticipation(t *testing.T) {
	ctx := context.Background()
	store := &failingUserStore{Store: newTestStore(t), failUpdates: true}
	_, err := store.CreateChallenge(ctx, domain.Challenge{
		ID: "ch-enrolled", Title: "Compost", Points: 20, SchoolID: "school-1",
		StartDate: testNow.Add(-time.Hour), IsActive: true,
		Participants:      []domain.Participation{{StudentID: "s1", Status: domain.StatusEnrolled, EnrolledAt: testNow.Add(-time.Hour)}},
		TotalParticipants: 1,
	})
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	service := newTestService(store)

	if _, err := service.CompleteChallenge(ctx, studentActor, "ch-enrolled"); !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected internal failure, got %v", err)
	}
	ch, _ := store.GetChallenge(ctx, "ch-enrolled")
	if len(ch.Participants) != 1 || ch.Participants[0].Status != domain.StatusEnrolled || ch.Participants[0].CompletedAt != nil {
		t.Fatalf("expected enrolled participation back, got %+v", ch.Participants)
	}
	if ch.CompletedCount != 0 || ch.TotalParticipants != 1 {
		t.Fatalf("unexpected counters: completed=%d total=%d", ch.CompletedCount, ch.TotalParticipants)
	}
}

func TestFailedAwardReleasesQuizSubmission(t *testing.T) {
	ctx := context.Background()
	store := &failingUserStore{Store: newTestStore(t)}
	service := newTestService(store)

	if _, err := service.SubmitQuiz(ctx, domain.Actor{ID: "s2", Role: domain.RoleStudent}, "quiz-1",
		domain.QuizSubmission{Answers: []int{0, 0, 0}}); err != nil {
		t.Fatalf("submit quiz: %v", err)
	}

	store.failUpdates = true
	if _, err := service.SubmitQuiz(ctx, studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 2}}); !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected internal failure, got %v", err)
	}
	quiz, _ := store.GetQuiz(ctx, "quiz-1")
	if quiz.SubmittedBy("s1") || len(quiz.Submissions) != 1 || quiz.AverageScore != 10 {
		t.Fatalf("submission not released: subs=%d avg=%d", len(quiz.Submissions), quiz.AverageScore)
	}

	store.failUpdates = false
	res, err := service.SubmitQuiz(ctx, studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 2}})
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if res.TotalPoints != 30 || res.QuizzesTaken != 1 {
		t.Fatalf("unexpected retry result: %+v", res)
	}
}

func TestRunningTotalIgnoresLedger(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateChallenge(ctx, domain.Challenge{
		ID: "ch-prev", Title: "Earlier", Points: 100, SchoolID: "school-1", IsActive: true,
		Participants: []domain.Participation{{StudentID: "s1", Status: domain.StatusCompleted, PointsEarned: 100}},
	})
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	res, err := newTestService(store).CompleteChallenge(ctx, studentActor, "ch-1")
	if err != nil {
		t.Fatalf("complete challenge: %v", err)
	}
	if res.TotalPoints != 150 {
		t.Fatalf("expected running total, got %d", res.TotalPoints)
	}
}

func TestObserverSeesOutcomes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	obs := &recordingObserver{}
	cache := &recordingInvalidator{}
	service := newTestService(store, app.WithScoringObserver(obs), app.WithLeaderboardInvalidator(cache))

	_, _ = service.CompleteChallenge(ctx, studentActor, "ch-1")
	_, _ = service.CompleteChallenge(ctx, studentActor, "ch-1")
	_, _ = service.SubmitQuiz(ctx, studentActor, "quiz-1", domain.QuizSubmission{Answers: []int{0, 1, 2}})

	if len(obs.obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(obs.obs))
	}
	if o := obs.obs[0]; o.kind != domain.ActivityChallenge || o.err != nil || o.points != 150 || o.badges != 1 {
		t.Fatalf("unexpected first observation: %+v", o)
	}
	if o := obs.obs[1]; !errors.Is(o.err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected duplicate observed, got %+v", o)
	}
	if o := obs.obs[2]; o.kind != domain.ActivityQuiz || o.points != 30 {
		t.Fatalf("unexpected quiz observation: %+v", o)
	}
	if cache.Calls() != 2 {
		t.Fatalf("expected invalidation per successful transaction, got %d", cache.Calls())
	}
}

func mustBadge(t *testing.T, id string) domain.Badge {
	t.Helper()
	b, ok := domain.LookupBadge(id)
	if !ok {
		t.Fatalf("unknown badge %s", id)
	}
	return b
}
