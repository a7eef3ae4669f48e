package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/gate-backend/internal/model"
)

// AttemptRepository handles completed-attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, session_id, test_id, user_id, question_ids, answers, flags, correct_count,
	question_count, score, graded, time_used_seconds, reason, started_at, finished_at`

// InsertBatch writes many attempts with one UNNEST statement. Re-delivered
// attempts (same session_id) are ignored.
func (r *AttemptRepository) InsertBatch(ctx context.Context, batch []model.Attempt) error {
	n := len(batch)
	if n == 0 {
		return nil
	}

	sessionIDs := make([]uuid.UUID, 0, n)
	testIDs := make([]uuid.UUID, 0, n)
	userIDs := make([]int, 0, n)
	questionIDs := make([][]byte, 0, n)
	answers := make([][]byte, 0, n)
	flags := make([][]byte, 0, n)
	corrects := make([]int, 0, n)
	counts := make([]int, 0, n)
	scores := make([]float64, 0, n)
	graded := make([]bool, 0, n)
	used := make([]int, 0, n)
	reasons := make([]string, 0, n)
	starts := make([]time.Time, 0, n)
	finishes := make([]time.Time, 0, n)

	for _, a := range batch {
		qb, err := json.Marshal(a.QuestionIDs)
		if err != nil {
			return fmt.Errorf("encode question ids: %w", err)
		}
		ab, err := json.Marshal(a.Answers)
		if err != nil {
			return fmt.Errorf("encode answers: %w", err)
		}
		fb, err := json.Marshal(a.Flags)
		if err != nil {
			return fmt.Errorf("encode flags: %w", err)
		}
		sessionIDs = append(sessionIDs, a.SessionID)
		testIDs = append(testIDs, a.TestID)
		userIDs = append(userIDs, a.UserID)
		questionIDs = append(questionIDs, qb)
		answers = append(answers, ab)
		flags = append(flags, fb)
		corrects = append(corrects, a.CorrectCount)
		counts = append(counts, a.QuestionCount)
		scores = append(scores, a.Score)
		graded = append(graded, a.Graded)
		used = append(used, a.TimeUsedSeconds)
		reasons = append(reasons, a.Reason)
		starts = append(starts, a.StartedAt)
		finishes = append(finishes, a.FinishedAt)
	}

	query := `
		INSERT INTO attempts (session_id, test_id, user_id, question_ids, answers, flags, correct_count,
		                      question_count, score, graded, time_used_seconds, reason, started_at, finished_at)
		SELECT * FROM UNNEST(
			$1::uuid[], $2::uuid[], $3::int[], $4::jsonb[], $5::jsonb[], $6::jsonb[], $7::int[],
			$8::int[], $9::float8[], $10::bool[], $11::int[], $12::text[], $13::timestamptz[], $14::timestamptz[]
		)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, sessionIDs, testIDs, userIDs, questionIDs, answers, flags, corrects,
		counts, scores, graded, used, reasons, starts, finishes)
	return err
}

// Insert writes a single attempt; used as the fallback when a batch fails.
func (r *AttemptRepository) Insert(ctx context.Context, a *model.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (session_id, test_id, user_id, question_ids, answers, flags, correct_count,
		                       question_count, score, graded, time_used_seconds, reason, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (session_id) DO NOTHING`,
		a.SessionID, a.TestID, a.UserID, a.QuestionIDs, a.Answers, a.Flags, a.CorrectCount,
		a.QuestionCount, a.Score, a.Graded, a.TimeUsedSeconds, a.Reason, a.StartedAt, a.FinishedAt,
	)
	return err
}

// ListByTest returns a page of attempts for a test, newest first, plus the total.
func (r *AttemptRepository) ListByTest(ctx context.Context, testID uuid.UUID, limit, offset int) ([]model.Attempt, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE test_id = $1`, testID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	attempts, err := r.query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE test_id = $1
		 ORDER BY finished_at DESC LIMIT $2 OFFSET $3`,
		testID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

// ListByUser returns a learner's attempt history, newest first.
func (r *AttemptRepository) ListByUser(ctx context.Context, userID int) ([]model.Attempt, error) {
	return r.query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id = $1
		 ORDER BY finished_at DESC`, userID)
}

func (r *AttemptRepository) query(ctx context.Context, sql string, args ...any) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.SessionID, &a.TestID, &a.UserID, &a.QuestionIDs, &a.Answers, &a.Flags,
			&a.CorrectCount, &a.QuestionCount, &a.Score, &a.Graded, &a.TimeUsedSeconds, &a.Reason,
			&a.StartedAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
