package domain

import "time"

// Role discriminates the user variants.
type Role string

const (
	RoleStudent Role = "student"
	RoleSchool  Role = "school"
	RoleNGO     Role = "ngo"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleSchool, RoleNGO, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   string
	Role Role
}

// User holds the fields shared by every role. Exactly one of the profile
// pointers matching Role is set; admins carry none.
type User struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Role      Role            `json:"role"`
	Student   *StudentProfile `json:"student,omitempty"`
	School    *SchoolProfile  `json:"school,omitempty"`
	NGO       *NGOProfile     `json:"ngo,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Version   int64           `json:"version"`
}

// StudentProfile carries a student's running totals.
type StudentProfile struct {
	EcoPoints           int           `json:"ecoPoints"`
	ChallengesCompleted int           `json:"challengesCompleted"`
	QuizzesTaken        int           `json:"quizzesTaken"`
	Badges              []EarnedBadge `json:"badges"`
	SchoolID            string        `json:"schoolId,omitempty"`
	Grade               string        `json:"grade,omitempty"`
	StudentNumber       string        `json:"studentNumber,omitempty"`
}

// HasBadge reports whether the badge id is already held.
func (p *StudentProfile) HasBadge(id string) bool {
	for _, b := range p.Badges {
		if b.ID == id {
			return true
		}
	}
	return false
}

type SchoolProfile struct {
	Address string `json:"address,omitempty"`
}

type NGOProfile struct {
	RegistrationID string `json:"registrationId,omitempty"`
}

// IsStudent reports whether u is a student with a profile attached.
func (u User) IsStudent() bool {
	return u.Role == RoleStudent && u.Student != nil
}

// Badge is a catalog entry.
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// EarnedBadge is a badge held by a student.
type EarnedBadge struct {
	Badge
	EarnedAt time.Time `json:"earnedAt"`
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type TargetMode string

const (
	TargetAll           TargetMode = "all"
	TargetGradeSpecific TargetMode = "grade-specific"
)

// Targeting restricts which students see a challenge or quiz.
type Targeting struct {
	Mode   TargetMode `json:"mode"`
	Grades []string   `json:"grades,omitempty"`
}

// Includes reports whether a student in grade is targeted.
func (t Targeting) Includes(grade string) bool {
	if t.Mode != TargetGradeSpecific {
		return true
	}
	for _, g := range t.Grades {
		if g == grade {
			return true
		}
	}
	return false
}

type ParticipationStatus string

const (
	StatusEnrolled   ParticipationStatus = "enrolled"
	StatusInProgress ParticipationStatus = "in-progress"
	StatusCompleted  ParticipationStatus = "completed"
)

// Participation is a student's engagement with a challenge.
type Participation struct {
	StudentID    string              `json:"studentId"`
	Status       ParticipationStatus `json:"status"`
	EnrolledAt   time.Time           `json:"enrolledAt"`
	CompletedAt  *time.Time          `json:"completedAt,omitempty"`
	PointsEarned int                 `json:"pointsEarned"`
}

type Challenge struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	Points            int             `json:"points"`
	Difficulty        Difficulty      `json:"difficulty"`
	Category          string          `json:"category,omitempty"`
	SchoolID          string          `json:"schoolId"`
	CreatedBy         string          `json:"createdBy"`
	StartDate         time.Time       `json:"startDate"`
	EndDate           *time.Time      `json:"endDate,omitempty"`
	IsActive          bool            `json:"isActive"`
	Targeting         Targeting       `json:"targeting"`
	Participants      []Participation `json:"participants"`
	CompletedCount    int             `json:"completedCount"`
	TotalParticipants int             `json:"totalParticipants"`
	CreatedAt         time.Time       `json:"createdAt"`
	Version           int64           `json:"version"`
}

// Open reports whether the challenge accepts completions at now.
func (c Challenge) Open(now time.Time) bool {
	return isOpen(c.IsActive, c.StartDate, c.EndDate, now)
}

// ParticipationIndex returns the index of the student's participation, or -1.
func (c Challenge) ParticipationIndex(studentID string) int {
	for i, p := range c.Participants {
		if p.StudentID == studentID {
			return i
		}
	}
	return -1
}

// CompletedBy reports whether the student already completed the challenge.
func (c Challenge) CompletedBy(studentID string) bool {
	for _, p := range c.Participants {
		if p.StudentID == studentID && p.Status == StatusCompleted {
			return true
		}
	}
	return false
}

// Question is a multiple-choice question; CorrectOption indexes Options.
type Question struct {
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Submission is a student's single attempt at a quiz.
type Submission struct {
	StudentID   string    `json:"studentId"`
	Answers     []int     `json:"answers"`
	Score       int       `json:"score"`
	Percentage  int       `json:"percentage"`
	TimeTaken   *int      `json:"timeTaken,omitempty"` // minutes
	SubmittedAt time.Time `json:"submittedAt"`
}

type Quiz struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	Questions         []Question   `json:"questions"`
	Points            int          `json:"points"`
	PassingScore      int          `json:"passingScore"`
	SchoolID          string       `json:"schoolId"`
	CreatedBy         string       `json:"createdBy"`
	StartDate         time.Time    `json:"startDate"`
	EndDate           *time.Time   `json:"endDate,omitempty"`
	Duration          int          `json:"duration,omitempty"` // minutes
	IsActive          bool         `json:"isActive"`
	Targeting         Targeting    `json:"targeting"`
	Submissions       []Submission `json:"submissions"`
	CompletedCount    int          `json:"completedCount"`
	AverageScore      int          `json:"averageScore"`
	TotalParticipants int          `json:"totalParticipants"`
	CreatedAt         time.Time    `json:"createdAt"`
	Version           int64        `json:"version"`
}

// Open reports whether the quiz accepts submissions at now.
func (q Quiz) Open(now time.Time) bool {
	return isOpen(q.IsActive, q.StartDate, q.EndDate, now)
}

// SubmittedBy reports whether the student already has a submission.
func (q Quiz) SubmittedBy(studentID string) bool {
	for _, s := range q.Submissions {
		if s.StudentID == studentID {
			return true
		}
	}
	return false
}

func isOpen(active bool, start time.Time, end *time.Time, now time.Time) bool {
	if !active {
		return false
	}
	if !start.IsZero() && start.After(now) {
		return false
	}
	return end == nil || end.After(now)
}

type ActivityKind string

const (
	ActivityChallenge ActivityKind = "challenge"
	ActivityQuiz      ActivityKind = "quiz"
	ActivityBadge     ActivityKind = "badge"
)

// ActivityLog is an immutable record of a scoring event.
type ActivityLog struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Kind         ActivityKind   `json:"kind"`
	ReferenceID  string         `json:"referenceId"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	PointsEarned int            `json:"pointsEarned"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}
