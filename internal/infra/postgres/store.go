package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"eco-points-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store keeps users, challenges and quizzes as JSONB documents next to the
// columns used for filtering. Every document row carries a version column;
// updates are conditional on it.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	version, err := s.getDocument(ctx, "users", id, &u)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	u.Version = version
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Version = 1
	raw, err := json.Marshal(u)
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal user: %w", err)
	}
	err = s.insert(ctx, "user", u.ID,
		`INSERT INTO users (id, role, school_id, version, data, created_at)
		 VALUES ($1, $2, $3, 1, $4, $5) ON CONFLICT (id) DO NOTHING`,
		u.ID, string(u.Role), userSchool(u), string(raw), u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u domain.User) (domain.User, error) {
	expected := u.Version
	u.Version++
	raw, err := json.Marshal(u)
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal user: %w", err)
	}
	err = s.conditionalUpdate(ctx, "users", u.ID, domain.ErrUserNotFound,
		`UPDATE users SET data = $3, role = $4, school_id = $5, version = version + 1
		 WHERE id = $1 AND version = $2`,
		u.ID, expected, string(raw), string(u.Role), userSchool(u))
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (s *Store) ListStudents(ctx context.Context, scope domain.Scope) ([]domain.User, error) {
	query := `SELECT data, version FROM users WHERE role = 'student' ORDER BY id`
	args := []any{}
	if scope.Kind == domain.ScopeSchool {
		query = `SELECT data, version FROM users WHERE role = 'student' AND school_id = $1 ORDER BY id`
		args = append(args, scope.SchoolID)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	out := make([]domain.User, 0)
	for rows.Next() {
		var (
			raw     []byte
			version int64
			u       domain.User
		)
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("unmarshal student: %w", err)
		}
		u.Version = version
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	var c domain.Challenge
	version, err := s.getDocument(ctx, "challenges", id, &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("load challenge: %w", err)
	}
	c.Version = version
	return c, nil
}

func (s *Store) CreateChallenge(ctx context.Context, c domain.Challenge) (domain.Challenge, error) {
	c.Version = 1
	raw, err := json.Marshal(c)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("marshal challenge: %w", err)
	}
	err = s.insert(ctx, "challenge", c.ID,
		`INSERT INTO challenges (id, school_id, version, data, created_at)
		 VALUES ($1, $2, 1, $3, $4) ON CONFLICT (id) DO NOTHING`,
		c.ID, c.SchoolID, string(raw), c.CreatedAt)
	if err != nil {
		return domain.Challenge{}, err
	}
	return c, nil
}

func (s *Store) UpdateChallenge(ctx context.Context, c domain.Challenge) (domain.Challenge, error) {
	expected := c.Version
	c.Version++
	raw, err := json.Marshal(c)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("marshal challenge: %w", err)
	}
	err = s.conditionalUpdate(ctx, "challenges", c.ID, domain.ErrChallengeNotFound,
		`UPDATE challenges SET data = $3, version = version + 1 WHERE id = $1 AND version = $2`,
		c.ID, expected, string(raw))
	if err != nil {
		return domain.Challenge{}, err
	}
	return c, nil
}

func (s *Store) ListChallenges(ctx context.Context, schoolID string) ([]domain.Challenge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data, version FROM challenges WHERE school_id = $1 ORDER BY created_at DESC, id`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Challenge, 0)
	for rows.Next() {
		var (
			raw     []byte
			version int64
			c       domain.Challenge
		)
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("unmarshal challenge: %w", err)
		}
		c.Version = version
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	var q domain.Quiz
	version, err := s.getDocument(ctx, "quizzes", id, &q)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	q.Version = version
	return q, nil
}

func (s *Store) CreateQuiz(ctx context.Context, q domain.Quiz) (domain.Quiz, error) {
	q.Version = 1
	raw, err := json.Marshal(q)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("marshal quiz: %w", err)
	}
	err = s.insert(ctx, "quiz", q.ID,
		`INSERT INTO quizzes (id, school_id, version, data, created_at)
		 VALUES ($1, $2, 1, $3, $4) ON CONFLICT (id) DO NOTHING`,
		q.ID, q.SchoolID, string(raw), q.CreatedAt)
	if err != nil {
		return domain.Quiz{}, err
	}
	return q, nil
}

func (s *Store) UpdateQuiz(ctx context.Context, q domain.Quiz) (domain.Quiz, error) {
	expected := q.Version
	q.Version++
	raw, err := json.Marshal(q)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("marshal quiz: %w", err)
	}
	err = s.conditionalUpdate(ctx, "quizzes", q.ID, domain.ErrQuizNotFound,
		`UPDATE quizzes SET data = $3, version = version + 1 WHERE id = $1 AND version = $2`,
		q.ID, expected, string(raw))
	if err != nil {
		return domain.Quiz{}, err
	}
	return q, nil
}

func (s *Store) ListQuizzes(ctx context.Context, schoolID string) ([]domain.Quiz, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data, version FROM quizzes WHERE school_id = $1 ORDER BY created_at DESC, id`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Quiz, 0)
	for rows.Next() {
		var (
			raw     []byte
			version int64
			q       domain.Quiz
		)
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal quiz: %w", err)
		}
		q.Version = version
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) AppendActivity(ctx context.Context, entry domain.ActivityLog) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO activity_logs (id, user_id, kind, reference_id, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.UserID, string(entry.Kind), entry.ReferenceID, string(raw), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *Store) ListActivity(ctx context.Context, userID string, limit int) ([]domain.ActivityLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM activity_logs WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ActivityLog, 0)
	for rows.Next() {
		var (
			raw   []byte
			entry domain.ActivityLog
		)
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal activity: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ledgerSQL sums completed participations and quiz submissions for one
// student straight from the JSONB documents.
const ledgerSQL = `
WITH participations AS (
	SELECT p
	FROM challenges c
	CROSS JOIN LATERAL jsonb_array_elements(
		CASE WHEN jsonb_typeof(c.data->'participants') = 'array'
		     THEN c.data->'participants' ELSE '[]'::jsonb END) AS p
	WHERE p->>'studentId' = $1 AND p->>'status' = 'completed'
), submissions AS (
	SELECT sub
	FROM quizzes q
	CROSS JOIN LATERAL jsonb_array_elements(
		CASE WHEN jsonb_typeof(q.data->'submissions') = 'array'
		     THEN q.data->'submissions' ELSE '[]'::jsonb END) AS sub
	WHERE sub->>'studentId' = $1
)
SELECT
	COALESCE((SELECT SUM((p->>'pointsEarned')::int) FROM participations), 0)
	  + COALESCE((SELECT SUM((sub->>'score')::int) FROM submissions), 0),
	(SELECT COUNT(*) FROM participations),
	(SELECT COUNT(*) FROM submissions)`

func (s *Store) StudentLedger(ctx context.Context, studentID string) (domain.LedgerTotals, error) {
	var (
		points            int64
		challenges, taken int64
	)
	if err := s.pool.QueryRow(ctx, ledgerSQL, studentID).Scan(&points, &challenges, &taken); err != nil {
		return domain.LedgerTotals{}, fmt.Errorf("student ledger: %w", err)
	}
	return domain.LedgerTotals{
		EcoPoints:           int(points),
		ChallengesCompleted: int(challenges),
		QuizzesTaken:        int(taken),
	}, nil
}

func (s *Store) getDocument(ctx context.Context, table, id string, dst any) (int64, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT data, version FROM %s WHERE id = $1`, table), id).
		Scan(&raw, &version)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return 0, fmt.Errorf("unmarshal %s: %w", table, err)
	}
	return version, nil
}

func (s *Store) insert(ctx context.Context, kind, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s already exists", kind, id)
	}
	return nil
}

// conditionalUpdate runs an UPDATE guarded by the version column and tells a
// missing row apart from a stale version.
func (s *Store) conditionalUpdate(ctx context.Context, table, id string, notFound error, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table), id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if !exists {
		return notFound
	}
	return domain.ErrConflict
}

func userSchool(u domain.User) string {
	if u.Student != nil {
		return u.Student.SchoolID
	}
	return ""
}
