package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/arunvm123/dianping/config"
	"github.com/arunvm123/dianping/logging"
	"github.com/arunvm123/dianping/notifier/kafka"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Initialise("config.yaml", false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup("dianping-notifier", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener := kafka.NewListener(cfg.Kafka)
	defer listener.Close()

	log.Info().Str("topic", cfg.Kafka.NotificationTopic).Msg("notification listener started")
	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("listener error")
	}

	log.Info().Int64("processed", listener.Processed()).Msg("listener stopped gracefully")
}
