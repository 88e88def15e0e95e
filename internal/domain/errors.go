package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core wraps exactly one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrExpiredOrInactive = errors.New("expired or inactive")
	ErrForbidden         = errors.New("forbidden")
	ErrAlreadyCompleted  = errors.New("already completed")
	ErrAlreadySubmitted  = errors.New("already submitted")
	ErrInvalidAnswers    = errors.New("invalid answers")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal failure")
	// ErrConflict is returned by conditional store writes when the stored
	// version no longer matches.
	ErrConflict = errors.New("version conflict")
)

var (
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrChallengeNotFound = fmt.Errorf("challenge %w", ErrNotFound)
	ErrQuizNotFound      = fmt.Errorf("quiz %w", ErrNotFound)

	ErrChallengeClosed = fmt.Errorf("challenge %w", ErrExpiredOrInactive)
	ErrQuizClosed      = fmt.Errorf("quiz %w", ErrExpiredOrInactive)

	ErrNotStudent      = fmt.Errorf("%w: only students can earn eco-points", ErrForbidden)
	ErrNotSchool       = fmt.Errorf("%w: only schools can manage content", ErrForbidden)
	ErrOtherSchool     = fmt.Errorf("%w: not enrolled in issuing school", ErrForbidden)
	ErrNotContentOwner = fmt.Errorf("%w: content belongs to another school", ErrForbidden)

	ErrMissingAnswers     = fmt.Errorf("%w: answers must be a list", ErrInvalidAnswers)
	ErrQuizHasNoQuestions = fmt.Errorf("%w: quiz has no questions", ErrInvalidAnswers)
)

// Internal wraps a store or infrastructure failure.
func Internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// Kind returns a stable code for err, suitable for API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInternal):
		return "internal"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpiredOrInactive):
		return "expired_or_inactive"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, ErrInvalidAnswers):
		return "invalid_answers"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
