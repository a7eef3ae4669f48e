package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/database"
	"github.com/stemsi/gate-backend/internal/logger"
	"github.com/stemsi/gate-backend/internal/repository"
	"github.com/stemsi/gate-backend/internal/service"
	"github.com/stemsi/gate-backend/internal/validator"
)

func main() {
	var path string
	flag.StringVar(&path, "file", "seeds/tests.yaml", "Path to the test seed file")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to open seed file")
	}
	seed, err := loadSeed(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid seed file")
	}
	for _, st := range seed.Tests {
		if fields := validator.Struct(st.createRequest()); fields != nil {
			log.Fatal().Str("title", st.Title).Interface("fields", fields).Msg("Invalid test in seed file")
		}
		if len(st.Questions) == 0 {
			continue
		}
		if fields := validator.Struct(st.questionsRequest()); fields != nil {
			log.Fatal().Str("title", st.Title).Interface("fields", fields).Msg("Invalid questions in seed file")
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	testRepo := repository.NewTestRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	testService := service.NewTestService(testRepo, questionRepo, rdb, cfg.CatalogCacheTTL, log)

	created := 0
	for _, st := range seed.Tests {
		tlog := log.With().Str("title", st.Title).Logger()

		t, err := testService.Create(ctx, st.createRequest())
		if errors.Is(err, service.ErrDuplicateTitle) {
			tlog.Info().Msg("Test already seeded, skipping")
			continue
		}
		if err != nil {
			tlog.Fatal().Err(err).Msg("Failed to create test")
		}
		if len(st.Questions) > 0 {
			if _, err := testService.AddQuestions(ctx, t.ID, st.questionsRequest()); err != nil {
				tlog.Fatal().Err(err).Msg("Failed to add questions")
			}
		}
		if st.Publish {
			if _, err := testService.Publish(ctx, t.ID); err != nil {
				tlog.Fatal().Err(err).Msg("Failed to publish test")
			}
		}
		created++
		tlog.Info().Int("questions", len(st.Questions)).Bool("published", st.Publish).Msg("Test seeded")
	}

	log.Info().Int("created", created).Int("total", len(seed.Tests)).Msg("Seeding complete")
}
