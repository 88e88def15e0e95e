package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"eco-points-service/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 5

// LeaderboardInvalidator drops cached leaderboards after totals change.
type LeaderboardInvalidator interface {
	Invalidate(ctx context.Context) error
}

// ScoringObserver receives the outcome of every scoring transaction.
type ScoringObserver interface {
	ObserveScoring(kind domain.ActivityKind, err error, points int, badges []domain.Badge)
}

// ScoringService runs challenge completions and quiz submissions.
type ScoringService struct {
	store       Store
	logger      *zap.Logger
	ledger      LedgerStrategy
	cache       LeaderboardInvalidator
	observer    ScoringObserver
	now         func() time.Time
	newID       func() string
	maxAttempts int
}

// ScoringOption customizes a ScoringService.
type ScoringOption func(*ScoringService)

func WithLedgerStrategy(l LedgerStrategy) ScoringOption {
	return func(s *ScoringService) { s.ledger = l }
}

func WithLeaderboardInvalidator(c LeaderboardInvalidator) ScoringOption {
	return func(s *ScoringService) { s.cache = c }
}

func WithScoringObserver(o ScoringObserver) ScoringOption {
	return func(s *ScoringService) { s.observer = o }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) ScoringOption {
	return func(s *ScoringService) { s.now = now }
}

// WithMaxAttempts bounds the optimistic concurrency retries per write.
func WithMaxAttempts(n int) ScoringOption {
	return func(s *ScoringService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewScoringService(store Store, logger *zap.Logger, opts ...ScoringOption) *ScoringService {
	s := &ScoringService{
		store:       store,
		logger:      logger,
		ledger:      LedgerRunningTotal,
		now:         time.Now,
		newID:       uuid.NewString,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CompleteChallenge marks the challenge completed for the acting student and
// awards its points. A second completion returns domain.ErrAlreadyCompleted
// and changes nothing.
func (s *ScoringService) CompleteChallenge(ctx context.Context, actor domain.Actor, challengeID string) (result domain.ChallengeResult, err error) {
	var awarded []domain.Badge
	defer func() { s.observe(domain.ActivityChallenge, err, result.PointsEarned, awarded) }()

	if actor.Role != domain.RoleStudent {
		return domain.ChallengeResult{}, domain.ErrNotStudent
	}

	var (
		challenge   domain.Challenge
		student     domain.User
		wasEnrolled bool
		claimed     bool
	)
	for attempt := 0; attempt < s.maxAttempts && !claimed; attempt++ {
		challenge, student, wasEnrolled, err = s.claimChallenge(ctx, actor.ID, challengeID)
		switch {
		case err == nil:
			claimed = true
		case errors.Is(err, domain.ErrConflict):
			s.logger.Debug("challenge completion lost a write race, retrying",
				zap.String("challenge_id", challengeID), zap.Int("attempt", attempt+1))
		default:
			return domain.ChallengeResult{}, err
		}
	}
	if !claimed {
		return domain.ChallengeResult{}, domain.Internal("complete challenge", domain.ErrConflict)
	}

	points := challenge.Points
	student, awarded, err = s.applyAward(ctx, student, award{points: points, challenges: 1})
	if err != nil {
		s.releaseChallenge(ctx, actor.ID, challengeID, wasEnrolled)
		return domain.ChallengeResult{}, err
	}

	s.appendActivity(ctx, domain.ActivityLog{
		UserID:       student.ID,
		Kind:         domain.ActivityChallenge,
		ReferenceID:  challenge.ID,
		Title:        challenge.Title,
		Description:  challenge.Description,
		PointsEarned: points,
		Metadata: map[string]any{
			"difficulty": string(challenge.Difficulty),
			"category":   challenge.Category,
			"schoolId":   challenge.SchoolID,
		},
	})
	s.recordBadges(ctx, student.ID, awarded)
	s.invalidate(ctx)

	s.logger.Info("challenge completed",
		zap.String("student_id", student.ID),
		zap.String("challenge_id", challenge.ID),
		zap.Int("points", points),
		zap.Int("total_points", student.Student.EcoPoints),
		zap.Int("new_badges", len(awarded)))

	return domain.ChallengeResult{
		ChallengeID:         challenge.ID,
		PointsEarned:        points,
		TotalPoints:         student.Student.EcoPoints,
		ChallengesCompleted: student.Student.ChallengesCompleted,
		NewBadges:           awarded,
	}, nil
}

// claimChallenge validates one completion attempt and writes the completed
// participation with a conditional update. wasEnrolled reports whether the
// student already had a participation entry before the claim.
func (s *ScoringService) claimChallenge(ctx context.Context, studentID, challengeID string) (domain.Challenge, domain.User, bool, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.Challenge{}, domain.User{}, false, storeErr("load challenge", err)
	}
	now := s.now()
	if !challenge.Open(now) {
		return domain.Challenge{}, domain.User{}, false, domain.ErrChallengeClosed
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return domain.Challenge{}, domain.User{}, false, err
	}
	if student.Student.SchoolID != challenge.SchoolID {
		return domain.Challenge{}, domain.User{}, false, domain.ErrOtherSchool
	}
	if challenge.CompletedBy(studentID) {
		return domain.Challenge{}, domain.User{}, false, domain.ErrAlreadyCompleted
	}

	wasEnrolled := challenge.ParticipationIndex(studentID) >= 0
	next := challenge.Clone()
	markCompleted(&next, studentID, now)
	saved, err := s.store.UpdateChallenge(ctx, next)
	if err != nil {
		return domain.Challenge{}, domain.User{}, false, storeErr("save challenge", err)
	}
	return saved, student, wasEnrolled, nil
}

// releaseChallenge undoes a claimed completion whose award could not be
// saved, so the student can retry. A participation that existed before the
// claim goes back to enrolled.
func (s *ScoringService) releaseChallenge(ctx context.Context, studentID, challengeID string, wasEnrolled bool) {
	err := s.retryConflicts(func() error {
		challenge, err := s.store.GetChallenge(ctx, challengeID)
		if err != nil {
			return err
		}
		i := challenge.ParticipationIndex(studentID)
		if i < 0 {
			return nil
		}
		next := challenge.Clone()
		if wasEnrolled {
			next.Participants[i].Status = domain.StatusEnrolled
			next.Participants[i].CompletedAt = nil
			next.Participants[i].PointsEarned = 0
		} else {
			next.Participants = append(next.Participants[:i], next.Participants[i+1:]...)
		}
		recount(&next)
		_, err = s.store.UpdateChallenge(ctx, next)
		return err
	})
	if err != nil {
		s.logger.Error("challenge claimed but award not saved and claim not released",
			zap.String("student_id", studentID), zap.String("challenge_id", challengeID), zap.Error(err))
		return
	}
	s.logger.Warn("challenge claim released after failed award",
		zap.String("student_id", studentID), zap.String("challenge_id", challengeID))
}

// retryConflicts runs op until it stops returning domain.ErrConflict, at
// most maxAttempts times.
func (s *ScoringService) retryConflicts(op func() error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err = op(); !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return err
}

func markCompleted(c *domain.Challenge, studentID string, now time.Time) {
	completedAt := now
	if i := c.ParticipationIndex(studentID); i >= 0 {
		c.Participants[i].Status = domain.StatusCompleted
		c.Participants[i].CompletedAt = &completedAt
		c.Participants[i].PointsEarned = c.Points
	} else {
		c.Participants = append(c.Participants, domain.Participation{
			StudentID:    studentID,
			Status:       domain.StatusCompleted,
			EnrolledAt:   now,
			CompletedAt:  &completedAt,
			PointsEarned: c.Points,
		})
	}
	recount(c)
}

func recount(c *domain.Challenge) {
	completed := 0
	for _, p := range c.Participants {
		if p.Status == domain.StatusCompleted {
			completed++
		}
	}
	c.CompletedCount = completed
	c.TotalParticipants = len(c.Participants)
}

// SubmitQuiz scores the acting student's answers and awards the earned
// points. Each student may submit a quiz once.
func (s *ScoringService) SubmitQuiz(ctx context.Context, actor domain.Actor, quizID string, submission domain.QuizSubmission) (result domain.QuizResult, err error) {
	var awarded []domain.Badge
	defer func() { s.observe(domain.ActivityQuiz, err, result.PointsEarned, awarded) }()

	if actor.Role != domain.RoleStudent {
		return domain.QuizResult{}, domain.ErrNotStudent
	}

	var (
		quiz    domain.Quiz
		student domain.User
		score   quizScore
		claimed bool
	)
	for attempt := 0; attempt < s.maxAttempts && !claimed; attempt++ {
		quiz, student, score, err = s.claimQuiz(ctx, actor.ID, quizID, submission)
		switch {
		case err == nil:
			claimed = true
		case errors.Is(err, domain.ErrConflict):
			s.logger.Debug("quiz submission lost a write race, retrying",
				zap.String("quiz_id", quizID), zap.Int("attempt", attempt+1))
		default:
			return domain.QuizResult{}, err
		}
	}
	if !claimed {
		return domain.QuizResult{}, domain.Internal("submit quiz", domain.ErrConflict)
	}

	student, awarded, err = s.applyAward(ctx, student, award{points: score.points, quizzes: 1})
	if err != nil {
		s.releaseQuiz(ctx, actor.ID, quizID)
		return domain.QuizResult{}, err
	}

	metadata := map[string]any{
		"score":          score.points,
		"percentage":     score.percentage,
		"totalQuestions": score.total,
		"correctAnswers": score.correct,
	}
	if submission.TimeTaken != nil {
		metadata["timeTaken"] = *submission.TimeTaken
	}
	s.appendActivity(ctx, domain.ActivityLog{
		UserID:       student.ID,
		Kind:         domain.ActivityQuiz,
		ReferenceID:  quiz.ID,
		Title:        quiz.Title,
		Description:  fmt.Sprintf("Quiz completed with %d%% score", score.percentage),
		PointsEarned: score.points,
		Metadata:     metadata,
	})
	s.recordBadges(ctx, student.ID, awarded)
	s.invalidate(ctx)

	s.logger.Info("quiz submitted",
		zap.String("student_id", student.ID),
		zap.String("quiz_id", quiz.ID),
		zap.Int("correct", score.correct),
		zap.Int("points", score.points),
		zap.Int("total_points", student.Student.EcoPoints),
		zap.Int("new_badges", len(awarded)))

	return domain.QuizResult{
		QuizID:         quiz.ID,
		Score:          score.points,
		TotalQuestions: score.total,
		CorrectAnswers: score.correct,
		Percentage:     score.percentage,
		Passed:         score.passed,
		PointsEarned:   score.points,
		TotalPoints:    student.Student.EcoPoints,
		QuizzesTaken:   student.Student.QuizzesTaken,
		NewBadges:      awarded,
	}, nil
}

func (s *ScoringService) claimQuiz(ctx context.Context, studentID, quizID string, submission domain.QuizSubmission) (domain.Quiz, domain.User, quizScore, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, domain.User{}, quizScore{}, storeErr("load quiz", err)
	}
	now := s.now()
	if !quiz.Open(now) {
		return domain.Quiz{}, domain.User{}, quizScore{}, domain.ErrQuizClosed
	}
	score, err := scoreQuiz(quiz, submission.Answers)
	if err != nil {
		return domain.Quiz{}, domain.User{}, quizScore{}, err
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return domain.Quiz{}, domain.User{}, quizScore{}, err
	}
	if student.Student.SchoolID != quiz.SchoolID {
		return domain.Quiz{}, domain.User{}, quizScore{}, domain.ErrOtherSchool
	}
	if quiz.SubmittedBy(studentID) {
		return domain.Quiz{}, domain.User{}, quizScore{}, domain.ErrAlreadySubmitted
	}

	next := quiz.Clone()
	next.Submissions = append(next.Submissions, domain.Submission{
		StudentID:   studentID,
		Answers:     append([]int(nil), submission.Answers...),
		Score:       score.points,
		Percentage:  score.percentage,
		TimeTaken:   submission.TimeTaken,
		SubmittedAt: now,
	})
	summarizeSubmissions(&next)

	saved, err := s.store.UpdateQuiz(ctx, next)
	if err != nil {
		return domain.Quiz{}, domain.User{}, quizScore{}, storeErr("save quiz", err)
	}
	return saved, student, score, nil
}

func summarizeSubmissions(q *domain.Quiz) {
	q.CompletedCount = len(q.Submissions)
	q.TotalParticipants = len(q.Submissions)
	q.AverageScore = 0
	if len(q.Submissions) == 0 {
		return
	}
	total := 0
	for _, sub := range q.Submissions {
		total += sub.Score
	}
	q.AverageScore = int(math.Round(float64(total) / float64(len(q.Submissions))))
}

// releaseQuiz removes a submission whose award could not be saved, so the
// student can submit again.
func (s *ScoringService) releaseQuiz(ctx context.Context, studentID, quizID string) {
	err := s.retryConflicts(func() error {
		quiz, err := s.store.GetQuiz(ctx, quizID)
		if err != nil {
			return err
		}
		next := quiz.Clone()
		kept := next.Submissions[:0]
		for _, sub := range next.Submissions {
			if sub.StudentID != studentID {
				kept = append(kept, sub)
			}
		}
		if len(kept) == len(quiz.Submissions) {
			return nil
		}
		next.Submissions = kept
		summarizeSubmissions(&next)
		_, err = s.store.UpdateQuiz(ctx, next)
		return err
	})
	if err != nil {
		s.logger.Error("quiz submission recorded but award not saved and submission not released",
			zap.String("student_id", studentID), zap.String("quiz_id", quizID), zap.Error(err))
		return
	}
	s.logger.Warn("quiz submission released after failed award",
		zap.String("student_id", studentID), zap.String("quiz_id", quizID))
}

type quizScore struct {
	correct    int
	total      int
	points     int
	percentage int
	passed     bool
}

// scoreQuiz compares answers position by position; unanswered questions
// never match.
func scoreQuiz(quiz domain.Quiz, answers []int) (quizScore, error) {
	if answers == nil {
		return quizScore{}, domain.ErrMissingAnswers
	}
	total := len(quiz.Questions)
	if total == 0 {
		return quizScore{}, domain.ErrQuizHasNoQuestions
	}

	// Answers past the last question are ignored.
	correct := 0
	for i := 0; i < min(len(answers), total); i++ {
		if answers[i] == quiz.Questions[i].CorrectOption {
			correct++
		}
	}
	pointsPerQuestion := float64(quiz.Points) / float64(total)
	percentage := int(math.Round(100 * float64(correct) / float64(total)))
	return quizScore{
		correct:    correct,
		total:      total,
		points:     int(math.Round(float64(correct) * pointsPerQuestion)),
		percentage: percentage,
		passed:     percentage >= quiz.PassingScore,
	}, nil
}

func (s *ScoringService) loadStudent(ctx context.Context, id string) (domain.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, storeErr("load student", err)
	}
	if !user.IsStudent() {
		return domain.User{}, domain.ErrNotStudent
	}
	return user, nil
}

// applyAward updates the student's totals and badges with a conditional
// write, re-reading the student when another transaction got there first.
func (s *ScoringService) applyAward(ctx context.Context, student domain.User, delta award) (domain.User, []domain.Badge, error) {
	for attempt := 1; ; attempt++ {
		next := student.Clone()
		if err := s.ledger.apply(ctx, s.store, next.ID, next.Student, delta); err != nil {
			return domain.User{}, nil, domain.Internal("derive ledger", err)
		}
		badges := domain.AwardableBadges(*next.Student)
		now := s.now()
		for _, b := range badges {
			next.Student.Badges = append(next.Student.Badges, domain.EarnedBadge{Badge: b, EarnedAt: now})
		}

		saved, err := s.store.UpdateUser(ctx, next)
		if err == nil {
			return saved, badges, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.User{}, nil, storeErr("save student", err)
		}
		if attempt >= s.maxAttempts {
			return domain.User{}, nil, domain.Internal("save student", err)
		}
		if student, err = s.loadStudent(ctx, student.ID); err != nil {
			return domain.User{}, nil, err
		}
	}
}

func (s *ScoringService) recordBadges(ctx context.Context, userID string, badges []domain.Badge) {
	for _, b := range badges {
		s.appendActivity(ctx, domain.ActivityLog{
			UserID:       userID,
			Kind:         domain.ActivityBadge,
			ReferenceID:  b.ID,
			Title:        "Badge Earned: " + b.Name,
			Description:  b.Description,
			PointsEarned: 0,
			Metadata:     map[string]any{"badgeId": b.ID, "badgeName": b.Name},
		})
	}
}

// appendActivity is best-effort; the award already happened.
func (s *ScoringService) appendActivity(ctx context.Context, entry domain.ActivityLog) {
	entry.ID = s.newID()
	entry.CreatedAt = s.now()
	if err := s.store.AppendActivity(ctx, entry); err != nil {
		s.logger.Warn("append activity log failed",
			zap.String("user_id", entry.UserID),
			zap.String("kind", string(entry.Kind)),
			zap.String("reference_id", entry.ReferenceID),
			zap.Error(err))
	}
}

func (s *ScoringService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("leaderboard cache invalidation failed", zap.Error(err))
	}
}

func (s *ScoringService) observe(kind domain.ActivityKind, err error, points int, badges []domain.Badge) {
	if s.observer != nil {
		s.observer.ObserveScoring(kind, err, points, badges)
	}
}
