// The responder daemon tails the responder feed queue and surfaces alert
// lifecycle events for community-responder portals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/guardianlink/guardian/internal/config"
	"github.com/guardianlink/guardian/internal/events"
	"github.com/guardianlink/guardian/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.SQSQueueURL == "" {
		return fmt.Errorf("SQS_QUEUE_URL is required for the responder daemon")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer, err := events.NewConsumer(ctx, events.Config{
		Region:   cfg.SQSRegion,
		QueueURL: cfg.SQSQueueURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create responder feed consumer: %w", err)
	}
	defer consumer.Close()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("responder daemon started")

	for {
		evt, receiptHandle, err := consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("responder daemon stopped")
				return nil
			}
			logger.Error("failed to receive alert event", zap.Error(err))
			continue
		}
		if evt == nil {
			// Long poll returned empty; keep waiting.
			continue
		}

		logger.Info("alert event",
			zap.String("event_type", evt.EventType),
			zap.String("alert_id", evt.AlertID),
			zap.String("device_id", evt.DeviceID),
			zap.Float64("lat", evt.Lat),
			zap.Float64("lng", evt.Lng),
			zap.String("status", evt.Status),
			zap.String("channel_used", evt.ChannelUsed),
		)

		if err := consumer.Delete(ctx, receiptHandle); err != nil {
			logger.Warn("failed to delete alert event",
				zap.Error(err),
				zap.String("alert_id", evt.AlertID),
			)
		}
	}
}
