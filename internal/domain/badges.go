package domain

// BadgeRule awards Badge once Reached returns true for a student's totals.
type BadgeRule struct {
	Badge   Badge
	Reached func(p StudentProfile) bool
}

// BadgeCatalog is the fixed, ordered set of badges a student can earn.
var BadgeCatalog = []BadgeRule{
	pointsRule("first-steps", "First Steps", "Earned your first 100 eco-points", "🌱", 100),
	pointsRule("eco-warrior", "Eco Warrior", "Reached 500 eco-points", "🛡️", 500),
	pointsRule("green-champion", "Green Champion", "Reached 1000 eco-points", "🏆", 1000),
	pointsRule("environmental-leader", "Environmental Leader", "Reached 2500 eco-points", "🌍", 2500),
	{
		Badge:   Badge{ID: "challenge-starter", Name: "Challenge Starter", Description: "Completed 5 challenges", Icon: "🎯"},
		Reached: func(p StudentProfile) bool { return p.ChallengesCompleted >= 5 },
	},
	{
		Badge:   Badge{ID: "challenge-master", Name: "Challenge Master", Description: "Completed 10 challenges", Icon: "🥇"},
		Reached: func(p StudentProfile) bool { return p.ChallengesCompleted >= 10 },
	},
	{
		Badge:   Badge{ID: "knowledge-seeker", Name: "Knowledge Seeker", Description: "Completed 5 quizzes", Icon: "📚"},
		Reached: func(p StudentProfile) bool { return p.QuizzesTaken >= 5 },
	},
	{
		Badge:   Badge{ID: "quiz-master", Name: "Quiz Master", Description: "Completed 10 quizzes", Icon: "🧠"},
		Reached: func(p StudentProfile) bool { return p.QuizzesTaken >= 10 },
	},
}

func pointsRule(id, name, description, icon string, threshold int) BadgeRule {
	return BadgeRule{
		Badge:   Badge{ID: id, Name: name, Description: description, Icon: icon},
		Reached: func(p StudentProfile) bool { return p.EcoPoints >= threshold },
	}
}

// LookupBadge returns the catalog entry for id.
func LookupBadge(id string) (Badge, bool) {
	for _, rule := range BadgeCatalog {
		if rule.Badge.ID == id {
			return rule.Badge, true
		}
	}
	return Badge{}, false
}

// AwardableBadges returns the catalog badges whose threshold p has reached
// and that p does not hold yet, in catalog order. It must be called after the
// totals were updated.
func AwardableBadges(p StudentProfile) []Badge {
	var out []Badge
	for _, rule := range BadgeCatalog {
		if p.HasBadge(rule.Badge.ID) {
			continue
		}
		if rule.Reached(p) {
			out = append(out, rule.Badge)
		}
	}
	return out
}
