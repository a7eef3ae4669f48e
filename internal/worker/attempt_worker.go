package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/model"
)

const (
	AttemptBatchSize    = 50
	AttemptBatchTimeout = 2 * time.Second
	AttemptPollTimeout  = 1 * time.Second
)

// AttemptWriter persists attempts.
type AttemptWriter interface {
	InsertBatch(ctx context.Context, batch []model.Attempt) error
	Insert(ctx context.Context, a *model.Attempt) error
}

// AnswerKeySource resolves answer keys for attempts that completed while the
// key was unreachable.
type AnswerKeySource interface {
	GetAnswerKey(ctx context.Context, testID uuid.UUID) (map[string]string, error)
}

// AttemptWorker drains the attempt queue into PostgreSQL in batches.
type AttemptWorker struct {
	repo         AttemptWriter
	keys         AnswerKeySource
	rdb          *redis.Client
	log          zerolog.Logger
	batchSize    int
	batchTimeout time.Duration
	pollTimeout  time.Duration
}

func NewAttemptWorker(repo AttemptWriter, keys AnswerKeySource, rdb *redis.Client, log zerolog.Logger) *AttemptWorker {
	return &AttemptWorker{
		repo:         repo,
		keys:         keys,
		rdb:          rdb,
		log:          log.With().Str("component", "attempt_worker").Logger(),
		batchSize:    AttemptBatchSize,
		batchTimeout: AttemptBatchTimeout,
		pollTimeout:  AttemptPollTimeout,
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start blocks until ctx is cancelled, then flushes what it holds.
func (w *AttemptWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptWorker started")

	batch := make([]model.Attempt, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, w.pollTimeout, config.WorkerKey.PersistAttemptsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var a model.Attempt
			if err := json.Unmarshal([]byte(item[1]), &a); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, a)
		}
	}
}

// ----------------------------------------------------------------
// Batch insert with single-row fallback
// ----------------------------------------------------------------

func (w *AttemptWorker) flushSafe(ctx context.Context, batch []model.Attempt) {
	if len(batch) == 0 {
		return
	}

	w.gradePending(ctx, batch)

	err := w.repo.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Attempts persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("bulk attempt insert failed, using fallback")

	for i := range batch {
		if err := w.repo.Insert(ctx, &batch[i]); err != nil {
			w.log.Error().
				Err(err).
				Str("session_id", batch[i].SessionID.String()).
				Msg("Insert failed, requeueing")
			w.requeue(ctx, &batch[i])
		}
	}
}

func (w *AttemptWorker) requeue(ctx context.Context, a *model.Attempt) {
	raw, err := json.Marshal(a)
	if err == nil {
		err = w.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, raw).Err()
	}
	if err != nil {
		w.log.Error().
			Err(err).
			Str("session_id", a.SessionID.String()).
			Msg("Requeue failed, attempt dropped")
	}
}

// gradePending grades attempts the session service queued without a key.
// Attempts whose key is still unavailable are stored ungraded.
func (w *AttemptWorker) gradePending(ctx context.Context, batch []model.Attempt) {
	if w.keys == nil {
		return
	}
	keys := make(map[uuid.UUID]map[string]string)
	for i := range batch {
		a := &batch[i]
		if a.Graded {
			continue
		}
		key, ok := keys[a.TestID]
		if !ok {
			var err error
			key, err = w.keys.GetAnswerKey(ctx, a.TestID)
			if err != nil {
				w.log.Warn().Err(err).Str("test_id", a.TestID.String()).Msg("Answer key unavailable, storing ungraded")
			}
			keys[a.TestID] = key
		}
		if key != nil {
			a.Grade(key)
		}
	}
}
