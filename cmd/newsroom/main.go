package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tkilaker/newsroom/internal/config"
	"github.com/tkilaker/newsroom/internal/database"
	"github.com/tkilaker/newsroom/internal/logger"
	"github.com/tkilaker/newsroom/internal/pipeline"
	"github.com/tkilaker/newsroom/internal/server"
	"github.com/tkilaker/newsroom/internal/source"
	"github.com/tkilaker/newsroom/internal/summarizer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logg.Sync()
	logg.Info("starting newsroom", "sections", len(cfg.Sections), "model", cfg.OpenAIModel)

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	logg.Info("connected to database")

	fetcher, err := source.NewFetcher(source.Options{
		BaseURL:           cfg.ContentAPIURL,
		APIKey:            cfg.ContentAPIKey,
		Sections:          cfg.Sections,
		LookbackDays:      cfg.ContentLookback,
		MinBodyChars:      cfg.ContentMinBody,
		Timeout:           cfg.ContentTimeout,
		EnrichShortBodies: cfg.EnrichShortBodies,
	}, logg)
	if err != nil {
		return fmt.Errorf("failed to initialize fetcher: %w", err)
	}

	sum, err := summarizer.NewClient(summarizer.Options{
		BaseURL:         cfg.OpenAIBaseURL,
		APIKey:          cfg.OpenAIAPIKey,
		Model:           cfg.OpenAIModel,
		Timeout:         cfg.OpenAITimeout,
		InputCostPer1K:  cfg.InputCostPer1K,
		OutputCostPer1K: cfg.OutputCostPer1K,
		MaxInputChars:   cfg.SummaryInputLimit,
	}, logg)
	if err != nil {
		return fmt.Errorf("failed to initialize summarizer: %w", err)
	}

	orch := pipeline.New(db, fetcher, sum, pipeline.NewProgressTracker(), pipeline.Config{
		DefaultCount:    cfg.DefaultIngestCount,
		SlugMaxAttempts: cfg.SlugMaxAttempts,
	}, logg)

	if cfg.IngestInterval > 0 {
		go pipeline.NewScheduler(orch, cfg.IngestInterval, cfg.DefaultIngestCount, cfg.StaleProcessingAfter).Start(ctx)
	}

	srv := server.New(db, orch, cfg, logg)
	return srv.Start(ctx, fmt.Sprintf(":%d", cfg.Port))
}
