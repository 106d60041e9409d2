// Worker consumes control-plane events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, EVENTS_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog"
	"github.com/segmentio/kafka-go"

	"hotspot-control-plane/backend/internal/config"
	"hotspot-control-plane/backend/internal/logging"
	"hotspot-control-plane/backend/internal/telemetry/loki"
)

const pushTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr).Named("worker")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Fatal(ctx, "KAFKA_BROKERS is required")
	}
	client, err := loki.New(cfg.LokiURL, nil)
	if err != nil {
		logger.Fatal(ctx, "LOKI_URL is required", slog.Error(err))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.EventsKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	logger.Info(ctx, "consuming events", slog.F("topic", cfg.EventsKafkaTopic),
		slog.F("group", cfg.KafkaGroupID), slog.F("loki", cfg.LokiURL))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info(context.Background(), "stopped")
				return
			}
			logger.Warn(ctx, "kafka read failed", slog.Error(err))
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			logger.Warn(ctx, "loki push failed", slog.F("offset", msg.Offset), slog.Error(err))
		}
		cancel()
	}
}
