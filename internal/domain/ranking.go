package domain

import "time"

// ScopeKind selects the population a rank is computed over.
type ScopeKind string

const (
	ScopeGlobal ScopeKind = "global"
	ScopeSchool ScopeKind = "school"
)

// Scope is a resolved ranking population. For ScopeSchool, SchoolID names the
// school; an empty SchoolID means students without a school.
type Scope struct {
	Kind     ScopeKind
	SchoolID string
}

// ParseScopeKind maps the query values accepted by the API. Unknown values
// fall back to the school scope, which is what students see by default.
func ParseScopeKind(raw string) ScopeKind {
	switch raw {
	case "global", "all":
		return ScopeGlobal
	default:
		return ScopeSchool
	}
}

// Precedes reports whether a ranks strictly ahead of b: more eco-points, or
// equal points and more completed challenges.
func Precedes(a, b StudentProfile) bool {
	if a.EcoPoints != b.EcoPoints {
		return a.EcoPoints > b.EcoPoints
	}
	return a.ChallengesCompleted > b.ChallengesCompleted
}

// LeaderboardEntry is a row of a leaderboard page.
type LeaderboardEntry struct {
	UserID              string `json:"userId"`
	Name                string `json:"name"`
	Grade               string `json:"grade,omitempty"`
	EcoPoints           int    `json:"ecoPoints"`
	ChallengesCompleted int    `json:"challengesCompleted"`
	QuizzesTaken        int    `json:"quizzesTaken"`
	BadgeCount          int    `json:"badgeCount"`
	Rank                int    `json:"rank"`
}

// Leaderboard is an ordered page of a scope.
type Leaderboard struct {
	Scope     ScopeKind          `json:"scope"`
	SchoolID  string             `json:"schoolId,omitempty"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// RankResult is a student's position within a scope.
type RankResult struct {
	Scope               ScopeKind `json:"scope"`
	Rank                int       `json:"rank"`
	TotalInScope        int       `json:"totalInScope"`
	Percentile          int       `json:"percentile"`
	EcoPoints           int       `json:"ecoPoints"`
	ChallengesCompleted int       `json:"challengesCompleted"`
	QuizzesTaken        int       `json:"quizzesTaken"`
}

// SchoolDashboard summarizes a school's student population.
type SchoolDashboard struct {
	SchoolID                 string             `json:"schoolId"`
	TotalStudents            int                `json:"totalStudents"`
	ActiveParticipants       int                `json:"activeParticipants"`
	TotalChallengesCompleted int                `json:"totalChallengesCompleted"`
	TotalQuizzesTaken        int                `json:"totalQuizzesTaken"`
	TotalPointsEarned        int                `json:"totalPointsEarned"`
	ParticipationRate        int                `json:"participationRate"`
	AveragePoints            int                `json:"averagePoints"`
	TopStudents              []LeaderboardEntry `json:"topStudents"`
}
