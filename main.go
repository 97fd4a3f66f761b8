package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arunvm123/dianping/breaker"
	"github.com/arunvm123/dianping/cache"
	"github.com/arunvm123/dianping/config"
	"github.com/arunvm123/dianping/idgen"
	"github.com/arunvm123/dianping/logging"
	"github.com/arunvm123/dianping/repository/postgres"
	"github.com/arunvm123/dianping/seckill"
	"github.com/arunvm123/dianping/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	// Try to load from config.yaml first, fallback to environment variables
	cfg, err := config.Initialise("config.yaml", false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup("dianping-api", cfg.LogLevel)
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	rdb, err := cache.Dial(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis")
	}
	defer rdb.Close()

	cb := breaker.New("redis", cfg.Breaker)
	shopCache := cache.New(rdb, cache.Options{
		NullTTL:        cfg.Cache.NullTTL,
		LockTTL:        cfg.Cache.LockTTL,
		RetryBackoff:   cfg.Cache.RetryBackoff,
		RebuildWorkers: cfg.Cache.RebuildWorkers,
		Breaker:        cb,
	})
	defer shopCache.Close()

	shopService, err := service.NewShopService(postgres.NewShopRepository(db), shopCache, cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid cache configuration")
	}
	ledger := seckill.NewLedger(rdb, idgen.New(rdb), cfg.Seckill.Stream, cb)
	orderService := service.NewSeckillService(postgres.NewVoucherRepository(db), ledger)

	handler := NewHandler(shopService, orderService, map[string]HealthCheck{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		"redis_breaker": func(context.Context) error {
			if state := cb.State(); state == "open" {
				return fmt.Errorf("circuit %s", state)
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           SetupRouter(handler, NewJWTService(cfg.JWTSecret)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("cache_strategy", cfg.Cache.Strategy).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}
