package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/deepnoodle-ai/screenflow/config"
	"github.com/deepnoodle-ai/screenflow/events"
	"github.com/deepnoodle-ai/screenflow/llm"
	"github.com/deepnoodle-ai/screenflow/metrics"
	"github.com/deepnoodle-ai/screenflow/postgres"
	"github.com/deepnoodle-ai/screenflow/screening"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// appOptions select the optional parts of an app.
type appOptions struct {
	// Serving enables metrics and event publishing.
	Serving bool
}

// app holds the screening service and everything it was built from.
type app struct {
	cfg            *config.Config
	logger         *slog.Logger
	service        *screening.Service
	metricsHandler http.Handler
	closers        []func() error
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Logging.SlogLevel()
	if cfg.Logging.Format == "json" {
		return screenflow.NewJSONLoggerWithLevel(level)
	}
	return screenflow.NewLoggerWithLevel(level)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	checkpointer, records, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	rubric := screening.DefaultRubric()
	if cfg.Pipeline.RubricPath != "" {
		if rubric, err = screening.LoadRubric(cfg.Pipeline.RubricPath); err != nil {
			return nil, err
		}
	}

	var stageLogger screenflow.StageLogger
	if cfg.Pipeline.StageLogDir != "" {
		stageLogger = screenflow.NewFileStageLogger(cfg.Pipeline.StageLogDir)
	}

	callbacks := screenflow.NewCallbackChain()
	if opts.Serving && cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		callbacks.Add(metrics.NewMetrics(cfg.Metrics.Namespace, registry))
		a.metricsHandler = metrics.Handler(registry)
	}
	if opts.Serving && cfg.Kafka.Enabled {
		publisher := events.NewPublisher(events.NewKafkaWriter(events.PublisherConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.EventsTopic,
		}), logger)
		a.closers = append(a.closers, publisher.Close)
		callbacks.Add(publisher)
	}

	service, err := screening.NewService(screening.ServiceOptions{
		Checkpointer: checkpointer,
		Store:        screening.NewRetryingRecordStore(records, logger),
		Extractor:    a.newExtractor(),
		Rubric:       rubric,
		Logger:       logger,
		Callbacks:    callbacks,
		StageLogger:  stageLogger,
		StageTimeout: cfg.Pipeline.StageTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.service = service
	ok = true
	return a, nil
}

func (a *app) openStores(ctx context.Context) (screenflow.Checkpointer, screening.RecordStore, error) {
	cfg := a.cfg
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return screenflow.NewMemoryCheckpointer(), screening.NewMemoryRecordStore(), nil
	case config.StoreFile:
		dir := cfg.Store.Dir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to get user home directory: %w", err)
			}
			dir = filepath.Join(home, ".screenflow")
		}
		checkpointer, err := screenflow.NewFileCheckpointer(filepath.Join(dir, "threads"))
		if err != nil {
			return nil, nil, err
		}
		records, err := screening.NewFileRecordStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return checkpointer, records, nil
	case config.StorePostgres:
		if cfg.Database.MigrateOnStart {
			if err := migrateUp(cfg.Database.DSN, a.logger); err != nil {
				return nil, nil, err
			}
		}
		pool, err := postgres.Open(ctx, cfg.Database.DSN, postgres.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			ConnectTimeout:  cfg.Database.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return postgres.NewCheckpointer(pool), postgres.NewRecordStore(pool), nil
	default:
		return nil, nil, fmt.Errorf("invalid store backend: %q", cfg.Store.Backend)
	}
}

// newExtractor returns the LLM extractor, or one that fails every call when
// no API key is configured so that commands not reaching extraction still
// work.
func (a *app) newExtractor() screening.Extractor {
	cfg := a.cfg.LLM
	client, err := llm.NewClient(llm.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxRetries:        cfg.MaxRetries,
		Logger:            a.logger,
	})
	if err != nil {
		a.logger.Warn("extraction disabled", "error", err)
		return screening.ExtractorFunc(func(ctx context.Context, cvText string) (screening.ExtractResult, error) {
			return screening.ExtractResult{}, fmt.Errorf("extraction unavailable: %w", err)
		})
	}
	return screening.NewLLMExtractor(client)
}

func migrateUp(dsn string, logger *slog.Logger) error {
	migrator, err := postgres.NewMigrator(dsn, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Error("failed to close migrator", "error", err)
		}
	}()
	return migrator.Up()
}

// Close releases everything the app opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
