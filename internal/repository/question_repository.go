package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/gate-backend/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByTest retrieves all questions for a test, ordered by order_num.
func (r *QuestionRepository) ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, prompt, passage, image_url, options, correct_option, order_num
		 FROM questions WHERE test_id = $1
		 ORDER BY order_num`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.Content.Prompt, &q.Content.Passage, &q.Content.ImageURL,
			&q.Options, &q.CorrectOption, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// AppendBatch inserts questions after the test's current last question in a
// single transaction. IDs and order numbers are written back into qs.
func (r *QuestionRepository) AppendBatch(ctx context.Context, testID uuid.UUID, qs []model.Question) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var next int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(order_num), 0) FROM questions WHERE test_id = $1`, testID,
		).Scan(&next); err != nil {
			return fmt.Errorf("read order: %w", err)
		}

		for i := range qs {
			next++
			q := &qs[i]
			q.TestID = testID
			q.OrderNum = next
			if err := tx.QueryRow(ctx,
				`INSERT INTO questions (test_id, prompt, passage, image_url, options, correct_option, order_num)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 RETURNING id`,
				testID, q.Content.Prompt, q.Content.Passage, q.Content.ImageURL,
				q.Options, q.CorrectOption, q.OrderNum,
			).Scan(&q.ID); err != nil {
				return fmt.Errorf("insert question %d: %w", i, err)
			}
		}
		return nil
	})
}
