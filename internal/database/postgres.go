package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/config"
)

// NewPostgresPool opens the pool that backs tests, questions, attempts and
// users. Queries slower than cfg.SlowQueryThreshold are logged at warn.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	poolCfg.MinConns = min(2, cfg.MaxDBConns)
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	if cfg.SlowQueryThreshold > 0 {
		poolCfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   slowQueryLogger{log: log, threshold: cfg.SlowQueryThreshold},
			LogLevel: tracelog.LogLevelInfo,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %q: %w", poolCfg.ConnConfig.Database, err)
	}

	log.Info().
		Int32("max_conns", poolCfg.MaxConns).
		Int32("min_conns", poolCfg.MinConns).
		Str("database", poolCfg.ConnConfig.Database).
		Dur("slow_query", cfg.SlowQueryThreshold).
		Msg("PostgreSQL pool ready")

	return pool, nil
}

// slowQueryLogger forwards pgx trace events to zerolog, keeping only
// failed queries and those above the threshold.
type slowQueryLogger struct {
	log       zerolog.Logger
	threshold time.Duration
}

func (l slowQueryLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	if level == tracelog.LogLevelError {
		l.log.Error().Fields(data).Msg(msg)
		return
	}
	took, ok := data["time"].(time.Duration)
	if !ok || took < l.threshold {
		return
	}
	l.log.Warn().
		Dur("took", took).
		Interface("sql", data["sql"]).
		Msg("slow query")
}
