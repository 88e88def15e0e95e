package domain

// ChallengeResult is returned by a successful challenge completion.
type ChallengeResult struct {
	ChallengeID         string  `json:"challengeId"`
	PointsEarned        int     `json:"pointsEarned"`
	TotalPoints         int     `json:"totalPoints"`
	ChallengesCompleted int     `json:"challengesCompleted"`
	NewBadges           []Badge `json:"newBadges,omitempty"`
}

// QuizSubmission is the scoring input for a quiz. A nil Answers slice means
// the payload carried no answer list at all.
type QuizSubmission struct {
	Answers   []int
	TimeTaken *int
}

// QuizResult is returned by a successful quiz submission.
type QuizResult struct {
	QuizID         string  `json:"quizId"`
	Score          int     `json:"score"`
	TotalQuestions int     `json:"totalQuestions"`
	CorrectAnswers int     `json:"correctAnswers"`
	Percentage     int     `json:"percentage"`
	Passed         bool    `json:"passed"`
	PointsEarned   int     `json:"pointsEarned"`
	TotalPoints    int     `json:"totalPoints"`
	QuizzesTaken   int     `json:"quizzesTaken"`
	NewBadges      []Badge `json:"newBadges,omitempty"`
}

// LedgerTotals are a student's totals derived from participation and
// submission records.
type LedgerTotals struct {
	EcoPoints           int
	ChallengesCompleted int
	QuizzesTaken        int
}
