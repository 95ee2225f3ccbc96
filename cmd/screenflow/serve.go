package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/screenflow/events"
	"github.com/deepnoodle-ai/screenflow/httpapi"
	"github.com/spf13/cobra"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the screening HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}
	logger = logger.With("component", "server")

	a, err := newApp(ctx, cfg, logger, appOptions{Serving: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close resources", "error", err)
		}
	}()

	server := httpapi.NewServer(a.service, httpapi.Options{
		Address:        cfg.Server.Address(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		Logger:         logger,
		MetricsHandler: a.metricsHandler,
		MetricsPath:    cfg.Metrics.Path,
	})

	errCh := make(chan error, 2)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	listenerCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	if cfg.Kafka.Enabled {
		listener := events.NewReviewListener(events.NewKafkaReader(events.ListenerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ReviewsTopic,
			GroupID: cfg.Kafka.GroupID,
		}), a.service, logger)
		defer listener.Close()
		go func() {
			if err := listener.Run(listenerCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("review listener error: %w", err)
			}
		}()
	}

	logger.Info("screenflow is ready",
		"address", cfg.Server.Address(),
		"store", cfg.Store.Backend,
		"kafka", cfg.Kafka.Enabled,
		"metrics", a.metricsHandler != nil)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("server error", "error", err)
		return err
	}

	stopListener()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("screenflow stopped")
	return nil
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
