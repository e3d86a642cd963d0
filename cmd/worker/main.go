// Package main is the entry point for the background worker that runs the
// document processing pipeline.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/taxgpt/taxgpt/internal/config"
	"github.com/taxgpt/taxgpt/internal/database"
	"github.com/taxgpt/taxgpt/internal/llm"
	"github.com/taxgpt/taxgpt/internal/metadata"
	"github.com/taxgpt/taxgpt/internal/ocr"
	"github.com/taxgpt/taxgpt/internal/pdftext"
	"github.com/taxgpt/taxgpt/internal/pipeline"
	"github.com/taxgpt/taxgpt/internal/repository"
	"github.com/taxgpt/taxgpt/internal/s3storage"
	"github.com/taxgpt/taxgpt/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.NewDocumentRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}

	// A missing credential fails here, at construction, instead of marking
	// documents failed one by one.
	chatClient, err := llm.NewClient(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.TextModel,
		Timeout: cfg.LLMTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("init llm client: %v", err)
	}

	vision := ocr.NewVisionExtractor(chatClient, cfg.VisionModel, ocr.NewPDFCPURasterizer(), logger)
	textExtractor := pdftext.NewExtractor(vision, logger)
	fieldExtractor := metadata.NewExtractor(chatClient, cfg.TextModel, logger)
	orchestrator := pipeline.NewOrchestrator(repo, store, textExtractor, fieldExtractor, logger)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Concurrency,
	})
	processor := worker.NewProcessor(orchestrator, logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker starting", "concurrency", cfg.Concurrency)
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
