package app

import (
	"context"
	"errors"

	"eco-points-service/internal/domain"
)

// UserRepository persists users. UpdateUser is a conditional write: it
// succeeds only when the stored version equals u.Version and returns the
// stored copy with the bumped version, or domain.ErrConflict.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	UpdateUser(ctx context.Context, u domain.User) (domain.User, error)
	// ListStudents returns every student in scope. A school scope with an
	// empty SchoolID selects students without a school.
	ListStudents(ctx context.Context, scope domain.Scope) ([]domain.User, error)
}

// ChallengeRepository persists challenges with the same conditional update
// contract as UserRepository.
type ChallengeRepository interface {
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)
	CreateChallenge(ctx context.Context, c domain.Challenge) (domain.Challenge, error)
	UpdateChallenge(ctx context.Context, c domain.Challenge) (domain.Challenge, error)
	ListChallenges(ctx context.Context, schoolID string) ([]domain.Challenge, error)
}

// QuizRepository persists quizzes with the same conditional update contract.
type QuizRepository interface {
	GetQuiz(ctx context.Context, id string) (domain.Quiz, error)
	CreateQuiz(ctx context.Context, q domain.Quiz) (domain.Quiz, error)
	UpdateQuiz(ctx context.Context, q domain.Quiz) (domain.Quiz, error)
	ListQuizzes(ctx context.Context, schoolID string) ([]domain.Quiz, error)
}

// ActivityRepository is the append-only activity log.
type ActivityRepository interface {
	AppendActivity(ctx context.Context, entry domain.ActivityLog) error
	// ListActivity returns a user's entries, newest first.
	ListActivity(ctx context.Context, userID string, limit int) ([]domain.ActivityLog, error)
}

// LedgerReader derives a student's totals from participation and submission
// records.
type LedgerReader interface {
	StudentLedger(ctx context.Context, studentID string) (domain.LedgerTotals, error)
}

// Store is the full entity store used by the services.
type Store interface {
	UserRepository
	ChallengeRepository
	QuizRepository
	ActivityRepository
	LedgerReader
}

// storeErr passes not-found and conflict errors through and wraps everything
// else as an internal failure.
func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
		return err
	}
	return domain.Internal(op, err)
}
