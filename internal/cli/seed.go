package cli

import (
	"context"
	"fmt"
	"time"

	"eco-points-service/internal/app"
	"eco-points-service/internal/config"
	"eco-points-service/internal/domain"
	transport "eco-points-service/internal/transport/http"
	"github.com/spf13/cobra"
)

// NewSeedCmd loads demo content into the configured database and prints
// bearer tokens for the demo accounts.
func NewSeedCmd(configPath *string) *cobra.Command {
	var tokenTTL time.Duration
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo school, students and content",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured; the in-memory store is seeded on start")
			}
			if err := runMigrations(ctx, cfg, logger); err != nil {
				return err
			}
			be, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer be.close()

			if err := seedDemo(ctx, be.store, time.Now()); err != nil {
				return err
			}
			logger.Info("demo data loaded")

			if cfg.Auth.JWTSecret == "" {
				return nil
			}
			auth := transport.NewAuthenticator(cfg.Auth.JWTSecret)
			for _, actor := range demoActors() {
				token, err := auth.IssueToken(actor, tokenTTL)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s\n", actor.ID, actor.Role, token)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed demo tokens")
	return cmd
}

func demoActors() []domain.Actor {
	return []domain.Actor{
		{ID: "school-green-valley", Role: domain.RoleSchool},
		{ID: "student-asha", Role: domain.RoleStudent},
		{ID: "student-ravi", Role: domain.RoleStudent},
	}
}

// seedDemo creates one school with two students, two challenges and a quiz.
// Existing ids are left untouched, so seeding twice is harmless.
func seedDemo(ctx context.Context, store app.Store, now time.Time) error {
	const schoolID = "school-green-valley"
	users := []domain.User{
		{
			ID: schoolID, Name: "Green Valley High", Email: "office@greenvalley.example",
			Role: domain.RoleSchool, School: &domain.SchoolProfile{Address: "12 Orchard Road"}, CreatedAt: now,
		},
		{
			ID: "student-asha", Name: "Asha Menon", Email: "asha@greenvalley.example", Role: domain.RoleStudent,
			Student:   &domain.StudentProfile{SchoolID: schoolID, Grade: "8", StudentNumber: "GV-0801"},
			CreatedAt: now,
		},
		{
			ID: "student-ravi", Name: "Ravi Kumar", Email: "ravi@greenvalley.example", Role: domain.RoleStudent,
			Student:   &domain.StudentProfile{SchoolID: schoolID, Grade: "9", StudentNumber: "GV-0902"},
			CreatedAt: now,
		},
	}
	for _, u := range users {
		if _, err := store.GetUser(ctx, u.ID); err == nil {
			continue
		}
		if _, err := store.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}

	month := now.AddDate(0, 1, 0)
	challenges := []domain.Challenge{
		{
			ID: "challenge-plant-tree", Title: "Plant a tree", Description: "Plant a sapling on campus and log it.",
			Points: 150, Difficulty: domain.DifficultyMedium, Category: "biodiversity",
			SchoolID: schoolID, CreatedBy: schoolID, StartDate: now, EndDate: &month, IsActive: true,
			Targeting: domain.Targeting{Mode: domain.TargetAll}, CreatedAt: now,
		},
		{
			ID: "challenge-waste-audit", Title: "Classroom waste audit", Description: "Sort and weigh a day of classroom waste.",
			Points: 50, Difficulty: domain.DifficultyEasy, Category: "waste",
			SchoolID: schoolID, CreatedBy: schoolID, StartDate: now, IsActive: true,
			Targeting: domain.Targeting{Mode: domain.TargetGradeSpecific, Grades: []string{"8"}}, CreatedAt: now,
		},
	}
	for _, c := range challenges {
		if _, err := store.GetChallenge(ctx, c.ID); err == nil {
			continue
		}
		if _, err := store.CreateChallenge(ctx, c); err != nil {
			return fmt.Errorf("seed challenge %s: %w", c.ID, err)
		}
	}

	quiz := domain.Quiz{
		ID: "quiz-recycling", Title: "Recycling basics", Points: 30, PassingScore: 60, Duration: 10,
		SchoolID: schoolID, CreatedBy: schoolID, StartDate: now, IsActive: true,
		Targeting: domain.Targeting{Mode: domain.TargetAll}, CreatedAt: now,
		Questions: []domain.Question{
			{Prompt: "Which bin takes glass bottles?", Options: []string{"Recycling", "Compost", "Landfill"}, CorrectOption: 0},
			{Prompt: "Can greasy pizza boxes be recycled?", Options: []string{"Yes", "No"}, CorrectOption: 1},
			{Prompt: "What do the 3 Rs stand for?", Options: []string{"Reduce, Reuse, Recycle", "Read, Write, Repeat"}, CorrectOption: 0},
		},
	}
	if _, err := store.GetQuiz(ctx, quiz.ID); err != nil {
		if _, err := store.CreateQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("seed quiz %s: %w", quiz.ID, err)
		}
	}
	return nil
}
