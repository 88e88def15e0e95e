package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"eco-points-service/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultChallengePoints = 10
	defaultQuizPoints      = 10
	defaultPassingScore    = 60
	defaultActivityLimit   = 20
	maxActivityLimit       = 100
)

// ChallengeInput is a school's request to publish a challenge.
type ChallengeInput struct {
	Title          string     `json:"title" validate:"required,max=200"`
	Description    string     `json:"description" validate:"max=2000"`
	Points         *int       `json:"points" validate:"omitempty,gte=0"`
	Difficulty     string     `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Category       string     `json:"category" validate:"max=100"`
	StartDate      *time.Time `json:"startDate"`
	EndDate        *time.Time `json:"endDate"`
	TargetStudents string     `json:"targetStudents" validate:"omitempty,oneof=all grade-specific"`
	TargetGrades   []string   `json:"targetGrades" validate:"required_if=TargetStudents grade-specific,dive,required"`
}

type QuestionInput struct {
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"min=2,dive,required"`
	CorrectAnswer int      `json:"correctAnswer" validate:"gte=0"`
	Explanation   string   `json:"explanation"`
}

// QuizInput is a school's request to publish a quiz.
type QuizInput struct {
	Title          string          `json:"title" validate:"required,max=200"`
	Description    string          `json:"description" validate:"max=2000"`
	Questions      []QuestionInput `json:"questions" validate:"required,min=1,dive"`
	Points         *int            `json:"points" validate:"omitempty,gte=0"`
	PassingScore   *int            `json:"passingScore" validate:"omitempty,gte=0,lte=100"`
	Duration       int             `json:"duration" validate:"gte=0"`
	StartDate      *time.Time      `json:"startDate"`
	EndDate        *time.Time      `json:"endDate"`
	TargetStudents string          `json:"targetStudents" validate:"omitempty,oneof=all grade-specific"`
	TargetGrades   []string        `json:"targetGrades" validate:"required_if=TargetStudents grade-specific,dive,required"`
}

// ChallengeView is a challenge as a student sees it.
type ChallengeView struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	Points            int               `json:"points"`
	Difficulty        domain.Difficulty `json:"difficulty"`
	Category          string            `json:"category,omitempty"`
	EndDate           *time.Time        `json:"endDate,omitempty"`
	CompletedCount    int               `json:"completedCount"`
	TotalParticipants int               `json:"totalParticipants"`
	Status            string            `json:"status"`
	PointsEarned      int               `json:"pointsEarned"`
}

type QuestionView struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// QuizView is a quiz as a student sees it; correct options are withheld.
type QuizView struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Points       int            `json:"points"`
	PassingScore int            `json:"passingScore"`
	Duration     int            `json:"duration,omitempty"`
	EndDate      *time.Time     `json:"endDate,omitempty"`
	Questions    []QuestionView `json:"questions"`
	Submitted    bool           `json:"submitted"`
	Score        *int           `json:"score,omitempty"`
	Percentage   *int           `json:"percentage,omitempty"`
}

type ChallengeStats struct {
	ChallengeID       string `json:"challengeId"`
	Title             string `json:"title"`
	TotalParticipants int    `json:"totalParticipants"`
	CompletedCount    int    `json:"completedCount"`
	CompletionRate    int    `json:"completionRate"`
	PointsAwarded     int    `json:"pointsAwarded"`
}

type QuizStats struct {
	QuizID            string `json:"quizId"`
	Title             string `json:"title"`
	Submissions       int    `json:"submissions"`
	AverageScore      int    `json:"averageScore"`
	AveragePercentage int    `json:"averagePercentage"`
	PassCount         int    `json:"passCount"`
	PassRate          int    `json:"passRate"`
	// QuestionAccuracy is the percentage of submissions answering each
	// question correctly.
	QuestionAccuracy []int `json:"questionAccuracy"`
}

// StudentProfile is a student's totals plus their school and global rank.
type StudentProfile struct {
	User       domain.User       `json:"user"`
	SchoolRank domain.RankResult `json:"schoolRank"`
	GlobalRank domain.RankResult `json:"globalRank"`
}

// ContentService publishes content and serves the student and school views
// around the scoring engine.
type ContentService struct {
	store    Store
	ranking  *RankingService
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewContentService(store Store, ranking *RankingService, logger *zap.Logger) *ContentService {
	return &ContentService{
		store:    store,
		ranking:  ranking,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

func (c *ContentService) requireSchool(actor domain.Actor) error {
	if actor.Role != domain.RoleSchool {
		return domain.ErrNotSchool
	}
	return nil
}

func (c *ContentService) check(in any, start, end *time.Time) error {
	if err := c.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
	}
	if start != nil && end != nil && !end.After(*start) {
		return fmt.Errorf("%w: endDate must be after startDate", domain.ErrInvalidInput)
	}
	return nil
}

func targeting(mode string, grades []string) domain.Targeting {
	if domain.TargetMode(mode) == domain.TargetGradeSpecific {
		return domain.Targeting{Mode: domain.TargetGradeSpecific, Grades: grades}
	}
	return domain.Targeting{Mode: domain.TargetAll}
}

// CreateChallenge publishes a challenge owned by the acting school.
func (c *ContentService) CreateChallenge(ctx context.Context, actor domain.Actor, in ChallengeInput) (domain.Challenge, error) {
	if err := c.requireSchool(actor); err != nil {
		return domain.Challenge{}, err
	}
	if err := c.check(in, in.StartDate, in.EndDate); err != nil {
		return domain.Challenge{}, err
	}

	now := c.now()
	ch := domain.Challenge{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Points:      defaultChallengePoints,
		Difficulty:  domain.DifficultyEasy,
		Category:    in.Category,
		SchoolID:    actor.ID,
		CreatedBy:   actor.ID,
		StartDate:   now,
		EndDate:     in.EndDate,
		IsActive:    true,
		Targeting:   targeting(in.TargetStudents, in.TargetGrades),
		CreatedAt:   now,
	}
	if in.Points != nil {
		ch.Points = *in.Points
	}
	if in.Difficulty != "" {
		ch.Difficulty = domain.Difficulty(in.Difficulty)
	}
	if in.StartDate != nil {
		ch.StartDate = *in.StartDate
	}

	saved, err := c.store.CreateChallenge(ctx, ch)
	if err != nil {
		return domain.Challenge{}, storeErr("create challenge", err)
	}
	c.logger.Info("challenge created", zap.String("challenge_id", saved.ID), zap.String("school_id", actor.ID))
	return saved, nil
}

// CreateQuiz publishes a quiz owned by the acting school.
func (c *ContentService) CreateQuiz(ctx context.Context, actor domain.Actor, in QuizInput) (domain.Quiz, error) {
	if err := c.requireSchool(actor); err != nil {
		return domain.Quiz{}, err
	}
	if err := c.check(in, in.StartDate, in.EndDate); err != nil {
		return domain.Quiz{}, err
	}

	questions := make([]domain.Question, 0, len(in.Questions))
	for i, q := range in.Questions {
		if q.CorrectAnswer >= len(q.Options) {
			return domain.Quiz{}, fmt.Errorf("%w: question %d: correctAnswer out of range", domain.ErrInvalidInput, i+1)
		}
		questions = append(questions, domain.Question{
			Prompt:        q.Question,
			Options:       q.Options,
			CorrectOption: q.CorrectAnswer,
			Explanation:   q.Explanation,
		})
	}

	now := c.now()
	quiz := domain.Quiz{
		ID:           uuid.NewString(),
		Title:        in.Title,
		Description:  in.Description,
		Questions:    questions,
		Points:       defaultQuizPoints,
		PassingScore: defaultPassingScore,
		SchoolID:     actor.ID,
		CreatedBy:    actor.ID,
		StartDate:    now,
		EndDate:      in.EndDate,
		Duration:     in.Duration,
		IsActive:     true,
		Targeting:    targeting(in.TargetStudents, in.TargetGrades),
		CreatedAt:    now,
	}
	if in.Points != nil {
		quiz.Points = *in.Points
	}
	if in.PassingScore != nil {
		quiz.PassingScore = *in.PassingScore
	}
	if in.StartDate != nil {
		quiz.StartDate = *in.StartDate
	}

	saved, err := c.store.CreateQuiz(ctx, quiz)
	if err != nil {
		return domain.Quiz{}, storeErr("create quiz", err)
	}
	c.logger.Info("quiz created", zap.String("quiz_id", saved.ID), zap.String("school_id", actor.ID))
	return saved, nil
}

// SchoolChallenges lists every challenge the acting school published,
// newest first, whatever its state.
func (c *ContentService) SchoolChallenges(ctx context.Context, actor domain.Actor) ([]domain.Challenge, error) {
	if err := c.requireSchool(actor); err != nil {
		return nil, err
	}
	challenges, err := c.store.ListChallenges(ctx, actor.ID)
	if err != nil {
		return nil, storeErr("list challenges", err)
	}
	return challenges, nil
}

// SchoolQuizzes lists every quiz the acting school published, newest first.
// The owner sees the correct options.
func (c *ContentService) SchoolQuizzes(ctx context.Context, actor domain.Actor) ([]domain.Quiz, error) {
	if err := c.requireSchool(actor); err != nil {
		return nil, err
	}
	quizzes, err := c.store.ListQuizzes(ctx, actor.ID)
	if err != nil {
		return nil, storeErr("list quizzes", err)
	}
	return quizzes, nil
}

func (c *ContentService) student(ctx context.Context, actor domain.Actor) (domain.User, error) {
	if actor.Role != domain.RoleStudent {
		return domain.User{}, domain.ErrNotStudent
	}
	user, err := c.store.GetUser(ctx, actor.ID)
	if err != nil {
		return domain.User{}, storeErr("load student", err)
	}
	if !user.IsStudent() {
		return domain.User{}, domain.ErrNotStudent
	}
	return user, nil
}

// AvailableChallenges lists the open challenges of the student's school that
// target the student's grade, with the student's own progress.
func (c *ContentService) AvailableChallenges(ctx context.Context, actor domain.Actor) ([]ChallengeView, error) {
	user, err := c.student(ctx, actor)
	if err != nil {
		return nil, err
	}
	challenges, err := c.store.ListChallenges(ctx, user.Student.SchoolID)
	if err != nil {
		return nil, storeErr("list challenges", err)
	}

	now := c.now()
	views := make([]ChallengeView, 0, len(challenges))
	for _, ch := range challenges {
		if !ch.Open(now) || !ch.Targeting.Includes(user.Student.Grade) {
			continue
		}
		view := ChallengeView{
			ID:                ch.ID,
			Title:             ch.Title,
			Description:       ch.Description,
			Points:            ch.Points,
			Difficulty:        ch.Difficulty,
			Category:          ch.Category,
			EndDate:           ch.EndDate,
			CompletedCount:    ch.CompletedCount,
			TotalParticipants: ch.TotalParticipants,
			Status:            "not-started",
		}
		if i := ch.ParticipationIndex(user.ID); i >= 0 {
			view.Status = string(ch.Participants[i].Status)
			view.PointsEarned = ch.Participants[i].PointsEarned
		}
		views = append(views, view)
	}
	return views, nil
}

// AvailableQuizzes lists the open quizzes of the student's school that target
// the student's grade. Correct options are never included.
func (c *ContentService) AvailableQuizzes(ctx context.Context, actor domain.Actor) ([]QuizView, error) {
	user, err := c.student(ctx, actor)
	if err != nil {
		return nil, err
	}
	quizzes, err := c.store.ListQuizzes(ctx, user.Student.SchoolID)
	if err != nil {
		return nil, storeErr("list quizzes", err)
	}

	now := c.now()
	views := make([]QuizView, 0, len(quizzes))
	for _, q := range quizzes {
		if !q.Open(now) || !q.Targeting.Includes(user.Student.Grade) {
			continue
		}
		view := QuizView{
			ID:           q.ID,
			Title:        q.Title,
			Description:  q.Description,
			Points:       q.Points,
			PassingScore: q.PassingScore,
			Duration:     q.Duration,
			EndDate:      q.EndDate,
			Questions:    make([]QuestionView, 0, len(q.Questions)),
		}
		for _, question := range q.Questions {
			view.Questions = append(view.Questions, QuestionView{Prompt: question.Prompt, Options: question.Options})
		}
		for _, sub := range q.Submissions {
			if sub.StudentID == user.ID {
				score, pct := sub.Score, sub.Percentage
				view.Submitted = true
				view.Score = &score
				view.Percentage = &pct
				break
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// ChallengeStats summarizes participation in a challenge owned by the school.
func (c *ContentService) ChallengeStats(ctx context.Context, actor domain.Actor, challengeID string) (ChallengeStats, error) {
	if err := c.requireSchool(actor); err != nil {
		return ChallengeStats{}, err
	}
	ch, err := c.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return ChallengeStats{}, storeErr("load challenge", err)
	}
	if ch.SchoolID != actor.ID {
		return ChallengeStats{}, domain.ErrNotContentOwner
	}

	stats := ChallengeStats{
		ChallengeID:       ch.ID,
		Title:             ch.Title,
		TotalParticipants: len(ch.Participants),
		CompletedCount:    ch.CompletedCount,
	}
	for _, p := range ch.Participants {
		if p.Status == domain.StatusCompleted {
			stats.PointsAwarded += p.PointsEarned
		}
	}
	stats.CompletionRate = ratio(stats.CompletedCount, stats.TotalParticipants)
	return stats, nil
}

// QuizStats summarizes submissions to a quiz owned by the school.
func (c *ContentService) QuizStats(ctx context.Context, actor domain.Actor, quizID string) (QuizStats, error) {
	if err := c.requireSchool(actor); err != nil {
		return QuizStats{}, err
	}
	q, err := c.store.GetQuiz(ctx, quizID)
	if err != nil {
		return QuizStats{}, storeErr("load quiz", err)
	}
	if q.SchoolID != actor.ID {
		return QuizStats{}, domain.ErrNotContentOwner
	}

	stats := QuizStats{
		QuizID:           q.ID,
		Title:            q.Title,
		Submissions:      len(q.Submissions),
		AverageScore:     q.AverageScore,
		QuestionAccuracy: make([]int, len(q.Questions)),
	}
	correct := make([]int, len(q.Questions))
	totalPct := 0
	for _, sub := range q.Submissions {
		totalPct += sub.Percentage
		if sub.Percentage >= q.PassingScore {
			stats.PassCount++
		}
		for i, answer := range sub.Answers {
			if i < len(q.Questions) && answer == q.Questions[i].CorrectOption {
				correct[i]++
			}
		}
	}
	if stats.Submissions > 0 {
		stats.AveragePercentage = int(math.Round(float64(totalPct) / float64(stats.Submissions)))
	}
	stats.PassRate = ratio(stats.PassCount, stats.Submissions)
	for i := range correct {
		stats.QuestionAccuracy[i] = ratio(correct[i], stats.Submissions)
	}
	return stats, nil
}

// StudentProfile returns the acting student with school and global rank.
func (c *ContentService) StudentProfile(ctx context.Context, actor domain.Actor) (StudentProfile, error) {
	user, err := c.student(ctx, actor)
	if err != nil {
		return StudentProfile{}, err
	}
	schoolRank, err := c.ranking.Rank(ctx, actor, domain.ScopeSchool)
	if err != nil {
		return StudentProfile{}, err
	}
	globalRank, err := c.ranking.Rank(ctx, actor, domain.ScopeGlobal)
	if err != nil {
		return StudentProfile{}, err
	}
	return StudentProfile{User: user, SchoolRank: schoolRank, GlobalRank: globalRank}, nil
}

// StudentActivity returns the acting student's newest activity entries.
func (c *ContentService) StudentActivity(ctx context.Context, actor domain.Actor, limit int) ([]domain.ActivityLog, error) {
	if _, err := c.student(ctx, actor); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	limit = min(limit, maxActivityLimit)
	entries, err := c.store.ListActivity(ctx, actor.ID, limit)
	if err != nil {
		return nil, storeErr("list activity", err)
	}
	return entries, nil
}

// ratio is part/whole as a rounded percentage, 0 when whole is 0.
func ratio(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}
