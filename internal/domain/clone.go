package domain

// Clone returns a copy of u that shares no mutable state with it.
func (u User) Clone() User {
	if u.Student != nil {
		profile := *u.Student
		profile.Badges = append([]EarnedBadge(nil), u.Student.Badges...)
		u.Student = &profile
	}
	if u.School != nil {
		school := *u.School
		u.School = &school
	}
	if u.NGO != nil {
		ngo := *u.NGO
		u.NGO = &ngo
	}
	return u
}

// Clone returns a copy of c that shares no mutable state with it.
func (c Challenge) Clone() Challenge {
	c.Participants = append([]Participation(nil), c.Participants...)
	c.Targeting.Grades = append([]string(nil), c.Targeting.Grades...)
	return c
}

// Clone returns a copy of q that shares no mutable state with it. Questions
// are treated as immutable once published.
func (q Quiz) Clone() Quiz {
	q.Submissions = append([]Submission(nil), q.Submissions...)
	q.Targeting.Grades = append([]string(nil), q.Targeting.Grades...)
	return q
}
