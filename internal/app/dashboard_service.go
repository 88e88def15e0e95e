package app

import (
	"context"
	"math"

	"eco-points-service/internal/domain"
)

const dashboardTopStudents = 10

// DashboardService builds read-only school summaries.
type DashboardService struct {
	users UserRepository
}

func NewDashboardService(users UserRepository) *DashboardService {
	return &DashboardService{users: users}
}

// SchoolDashboard summarizes the students enrolled in schoolID.
func (d *DashboardService) SchoolDashboard(ctx context.Context, schoolID string) (domain.SchoolDashboard, error) {
	school, err := d.users.GetUser(ctx, schoolID)
	if err != nil {
		return domain.SchoolDashboard{}, storeErr("load school", err)
	}
	if school.Role != domain.RoleSchool {
		return domain.SchoolDashboard{}, domain.ErrUserNotFound
	}
	students, err := d.users.ListStudents(ctx, domain.Scope{Kind: domain.ScopeSchool, SchoolID: schoolID})
	if err != nil {
		return domain.SchoolDashboard{}, storeErr("list students", err)
	}
	return Summarize(schoolID, students), nil
}

// Summarize reduces a student population to dashboard figures.
func Summarize(schoolID string, students []domain.User) domain.SchoolDashboard {
	dash := domain.SchoolDashboard{SchoolID: schoolID}
	for _, u := range students {
		if !u.IsStudent() {
			continue
		}
		p := u.Student
		dash.TotalStudents++
		if p.EcoPoints > 0 || p.ChallengesCompleted > 0 {
			dash.ActiveParticipants++
		}
		dash.TotalChallengesCompleted += p.ChallengesCompleted
		dash.TotalQuizzesTaken += p.QuizzesTaken
		dash.TotalPointsEarned += p.EcoPoints
	}
	if dash.TotalStudents > 0 {
		n := float64(dash.TotalStudents)
		dash.ParticipationRate = int(math.Round(100 * float64(dash.ActiveParticipants) / n))
		dash.AveragePoints = int(math.Round(float64(dash.TotalPointsEarned) / n))
	}
	dash.TopStudents = topStudents(students, dashboardTopStudents)
	return dash
}
