package app

import (
	"context"
	"fmt"

	"eco-points-service/internal/domain"
)

// LedgerStrategy decides which record is authoritative for a student's
// totals. Participation and submission records always carry the per-action
// points; the strategy decides how the user's running totals follow them.
type LedgerStrategy string

const (
	// LedgerRunningTotal increments the user's totals by the awarded delta.
	LedgerRunningTotal LedgerStrategy = "running-total"
	// LedgerDerived applies the award and then lifts the user's totals to
	// the sums of the records when those are higher. Totals the records do
	// not explain, such as imported points, are kept.
	LedgerDerived LedgerStrategy = "derived"
)

// ParseLedgerStrategy maps a config value; empty selects the running total.
func ParseLedgerStrategy(raw string) (LedgerStrategy, error) {
	switch LedgerStrategy(raw) {
	case "", LedgerRunningTotal:
		return LedgerRunningTotal, nil
	case LedgerDerived:
		return LedgerDerived, nil
	}
	return "", fmt.Errorf("unknown ledger strategy %q", raw)
}

type award struct {
	points     int
	challenges int
	quizzes    int
}

func (l LedgerStrategy) apply(ctx context.Context, ledger LedgerReader, studentID string, p *domain.StudentProfile, delta award) error {
	if l != LedgerDerived {
		p.EcoPoints += delta.points
		p.ChallengesCompleted += delta.challenges
		p.QuizzesTaken += delta.quizzes
		return nil
	}

	totals, err := ledger.StudentLedger(ctx, studentID)
	if err != nil {
		return err
	}
	p.EcoPoints = max(p.EcoPoints+delta.points, totals.EcoPoints)
	p.ChallengesCompleted = max(p.ChallengesCompleted+delta.challenges, totals.ChallengesCompleted)
	p.QuizzesTaken = max(p.QuizzesTaken+delta.quizzes, totals.QuizzesTaken)
	return nil
}
