package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/careops/scheduling/internal/config"
	"github.com/careops/scheduling/internal/db"
	"github.com/careops/scheduling/internal/metrics"
	"github.com/careops/scheduling/internal/notify"
	redisclient "github.com/careops/scheduling/internal/redis"
	"github.com/careops/scheduling/internal/scheduling"
)

// The expiry worker reclaims reservation locks whose TTL has passed so the
// slots they held become available again. Acquire already purges expired
// locks that block a new reservation; the sweeper handles the rest, and
// publishes reclaim events so calendar views refresh.
func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "expiry-worker").Logger()
	log.Info().Msg("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if cfg.Env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	rdb, err := redisclient.New(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer rdb.Close()

	metrics.Register()

	repo := scheduling.NewPgRepository(pgPool)
	publisher := notify.NewRedisPublisher(rdb, "events")

	// The sweeper only deletes rows, so it runs without the slot guard.
	svc := scheduling.NewService(repo, redisclient.NopGuard{}, publisher, scheduling.SystemClock{}, scheduling.ServiceConfig{
		LockTTL:         cfg.LockTTL,
		PastGranularity: cfg.PastGranularity,
	}, log)

	log.Info().Dur("interval", cfg.SweepInterval).Msg("sweep loop starting")

	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("expiry-worker stopping")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service, log zerolog.Logger) {
	sweepCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	reclaimed, err := svc.SweepExpiredLocks(sweepCtx)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed")
		return
	}
	if reclaimed > 0 {
		log.Info().Int("reclaimed", reclaimed).Msg("expired locks reclaimed")
	}
}
