package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("event-relay", true, "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("event-relay", cfg.IsDevelopment(), cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.RelayInterval).
		Int("batch_size", cfg.RelayBatchSize).
		Str("channel", cfg.EventsChannel).
		Msg("event-relay starting up")

	if cfg.StorageDriver != config.StoragePostgres {
		logger.Error().Str("storage", cfg.StorageDriver).Msg("event relay reads the postgres event log; set STORAGE_DRIVER=postgres")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()

	repo := appointment.NewPgRepository(pgPool)
	pub := redisclient.NewPublisher(rdb, cfg.EventsChannel)

	relay.New(repo, pub, cfg.RelayBatchSize, logger).Run(rootCtx, cfg.RelayInterval)
	logger.Info().Msg("event-relay stopped")
}
