package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/arunvm123/dianping/cache"
	"github.com/arunvm123/dianping/config"
	"github.com/arunvm123/dianping/logging"
	"github.com/arunvm123/dianping/notifier/kafka"
	"github.com/arunvm123/dianping/queue"
	"github.com/arunvm123/dianping/repository/postgres"
	"github.com/arunvm123/dianping/service"
	"github.com/arunvm123/dianping/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	replay := flag.Int64("replay-dead-letters", 0, "move up to N dead-lettered orders back onto the order stream and exit")
	flag.Parse()

	// Load configuration (fallback to env variables if config file not found)
	cfg, err := config.Initialise("config.yaml", false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup("dianping-order-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Dial(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis")
	}
	defer rdb.Close()

	orders := queue.New(rdb, cfg.Seckill.Stream, cfg.Seckill.Group, cfg.Seckill.DeadLetterStream)

	if *replay > 0 {
		n, err := orders.ReplayDeadLetters(ctx, *replay)
		if err != nil {
			log.Fatal().Err(err).Int("replayed", n).Msg("dead letter replay failed")
		}
		log.Info().Int("replayed", n).Msg("dead letters replayed")
		return
	}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	notifier := kafka.NewOrderNotifier(cfg.Kafka)
	defer notifier.Close()

	// Retry backoff never exceeds the per-user lock lease.
	if cfg.Worker.MaxBackoff > cfg.Seckill.OrderLockTTL && cfg.Seckill.OrderLockTTL > 0 {
		cfg.Worker.MaxBackoff = cfg.Seckill.OrderLockTTL
	}
	creator := service.NewOrderCreator(rdb, postgres.NewOrderRepository(db), cfg.Seckill.OrderLockTTL)
	processor := worker.NewOrderProcessor(orders, creator, notifier, cfg.Worker)

	log.Info().Strs("consumers", processor.Consumers()).Str("stream", orders.Stream()).Msg("order worker started")
	if err := processor.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker error")
	}

	log.Info().Msg("worker stopped gracefully")
}
