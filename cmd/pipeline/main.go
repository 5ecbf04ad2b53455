package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/letieu/advice-scorer/config"
	"github.com/letieu/advice-scorer/internal/advice"
	"github.com/letieu/advice-scorer/internal/database"
	"github.com/letieu/advice-scorer/internal/embeddings"
	"github.com/letieu/advice-scorer/internal/logging"
	"github.com/letieu/advice-scorer/internal/pipeline"
	"github.com/letieu/advice-scorer/internal/reddit"
	"github.com/letieu/advice-scorer/internal/similarity"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	store, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fetcher, err := reddit.NewClient(reddit.Options{
		UserAgent:    cfg.Reddit.UserAgent,
		BaseURL:      cfg.Reddit.BaseURL,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		RateLimit:    cfg.Reddit.RateLimit,
		Timeout:      cfg.Reddit.Timeout,
	}, &logger)
	if err != nil {
		return fmt.Errorf("create reddit client: %w", err)
	}

	backend, err := advice.NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	generator := advice.New(backend)

	embedder, err := embeddings.New(cfg.Embeddings.Host, cfg.Embeddings.Model, cfg.Embeddings.CacheSize)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Deps{
		Fetcher:   fetcher,
		Generator: generator,
		Scorer:    similarity.NewScorer(embedder),
		Store:     store,
		Verifier:  generator,
	}, pipeline.OptionsFromConfig(cfg), &logger)
	if err != nil {
		return err
	}

	logger.Info().
		Str("provider", cfg.LLM.Provider).
		Str("model", generator.Model()).
		Str("embedding_model", embedder.Model()).
		Str("database", cfg.Database.Type).
		Msg("starting advice pipeline")

	summary, err := p.Run(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrFatal) {
			logger.Error().Err(err).Str("run_id", summary.RunID).Int("written", summary.Written()).Msg("run aborted")
		}
		return err
	}

	if summary.Written() == 0 && summary.Fetched > 0 {
		logger.Info().Str("run_id", summary.RunID).Msg("nothing new to process")
	}
	logSummary(&logger, summary)
	return nil
}

func logSummary(logger *zerolog.Logger, s pipeline.Summary) {
	failed := s.FailedGeneration + s.FailedScoring
	event := logger.Info()
	if failed > 0 {
		event = logger.Warn()
	}
	event.
		Str("run_id", s.RunID).
		Int("written", s.Written()).
		Int("failed", failed).
		Int("deferred", s.Deferred).
		Msg("run complete")
}
