package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/gate-backend/internal/model"
)

// TestRepository handles practice test data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

const testColumns = `t.id, t.title, t.subject, t.duration_seconds,
	(SELECT COUNT(*) FROM questions q WHERE q.test_id = t.id) AS question_count,
	t.status, t.created_at, t.updated_at`

func scanTest(row interface{ Scan(...any) error }, t *model.Test) error {
	return row.Scan(&t.ID, &t.Title, &t.Subject, &t.DurationSeconds,
		&t.QuestionCount, &t.Status, &t.CreatedAt, &t.UpdatedAt)
}

// GetByID retrieves a test by its UUID.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	row := r.pool.QueryRow(ctx, `SELECT `+testColumns+` FROM tests t WHERE t.id = $1`, id)
	if err := scanTest(row, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListByStatus returns tests with the given status, optionally narrowed to a subject.
func (r *TestRepository) ListByStatus(ctx context.Context, status model.TestStatus, subject model.Subject) ([]model.Test, error) {
	query := `SELECT ` + testColumns + ` FROM tests t WHERE t.status = $1`
	args := []any{status}
	if subject != "" {
		query += ` AND t.subject = $2`
		args = append(args, subject)
	}
	query += ` ORDER BY t.subject, t.created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []model.Test
	for rows.Next() {
		var t model.Test
		if err := scanTest(rows, &t); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// Create inserts a new test.
func (r *TestRepository) Create(ctx context.Context, t *model.Test) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO tests (title, subject, duration_seconds, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		t.Title, t.Subject, t.DurationSeconds, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// UpdateStatus updates a test's status.
func (r *TestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.TestStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tests SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// ExistsByTitle reports whether a test with the given title exists.
func (r *TestRepository) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tests WHERE title = $1)`, title,
	).Scan(&exists)
	return exists, err
}
