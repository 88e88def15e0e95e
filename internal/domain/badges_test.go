package domain

import "testing"

func badgeIDs(badges []Badge) []string {
	ids := make([]string, 0, len(badges))
	for _, b := range badges {
		ids = append(ids, b.ID)
	}
	return ids
}

func TestAwardableBadges(t *testing.T) {
	cases := []struct {
		name    string
		profile StudentProfile
		want    []string
	}{
		{"nothing reached", StudentProfile{EcoPoints: 99, ChallengesCompleted: 4, QuizzesTaken: 4}, nil},
		{"exact threshold", StudentProfile{EcoPoints: 100}, []string{"first-steps"}},
		{"catalog order", StudentProfile{EcoPoints: 1200, ChallengesCompleted: 5, QuizzesTaken: 10},
			[]string{"first-steps", "eco-warrior", "green-champion", "challenge-starter", "knowledge-seeker", "quiz-master"}},
		{"held badges skipped", StudentProfile{
			EcoPoints: 600,
			Badges:    []EarnedBadge{{Badge: Badge{ID: "first-steps"}}},
		}, []string{"eco-warrior"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := badgeIDs(AwardableBadges(tc.profile))
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestLookupBadge(t *testing.T) {
	b, ok := LookupBadge("challenge-master")
	if !ok || b.Name != "Challenge Master" {
		t.Fatalf("unexpected lookup result %+v %v", b, ok)
	}
	if _, ok := LookupBadge("unknown"); ok {
		t.Fatalf("unknown badge must not resolve")
	}
}
