package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/originpool/httpclient/admin"
	"github.com/originpool/httpclient/config"
	"github.com/originpool/httpclient/logger"
	"github.com/originpool/httpclient/observability"
	"github.com/originpool/httpclient/pool"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("httpclient poold starting")

	metrics := observability.NewMetrics(log)

	poolCfg := cfg.PoolConfig()
	manager := pool.NewManager(pool.Config{
		MaxConnections: poolCfg.MaxConnections,
		ConnectTimeout: poolCfg.ConnectTimeout,
		IdleTimeout:    poolCfg.IdleTimeout,
	}, newFactoryBuilder(cfg), log)

	var publisher *observability.SnapshotPublisher
	var publisherCancel context.CancelFunc
	if cfg.SnapshotEnabled() {
		p, err := observability.NewSnapshotPublisher(cfg.RedisURL, cfg.SnapshotTopic, log)
		if err != nil {
			log.Warn().Err(err).Msg("snapshot publisher init failed — continuing without it")
		} else {
			publisher = p
			var ctx context.Context
			ctx, publisherCancel = context.WithCancel(context.Background())
			go publisher.Run(ctx, managerStatsAdapter{manager}, cfg.SnapshotInterval)
			log.Info().Str("topic", cfg.SnapshotTopic).Msg("publishing pool snapshots to redis")
		}
	}

	r := admin.NewRouter(log, manager, metrics)
	srv := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	if publisherCancel != nil {
		publisherCancel()
		_ = publisher.Close()
	}

	manager.ShutdownAll()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("poold stopped gracefully")
	}
}

// newFactoryBuilder returns a per-origin ConnectionFactory constructor
// that applies the process-wide dial rate/timeout defaults. Real origin
// to host/port/TLS resolution belongs to the caller issuing requests
// (spec §1 Non-goals: DNS/proxy/redirect handling is out of scope) — for
// now every origin dials itself by name on port 443 with TLS, which is
// enough to exercise DefaultConnectionFactory end to end.
func newFactoryBuilder(cfg *config.Config) func(origin string) pool.ConnectionFactory {
	return func(origin string) pool.ConnectionFactory {
		return pool.NewDefaultConnectionFactory(pool.DialerConfig{
			Host:        origin,
			Port:        443,
			UseTLS:      true,
			DialTimeout: cfg.ConnectTimeout,
			KeepAlive:   30 * time.Second,
			DialRate:    rate.Limit(cfg.DialRatePerSecond),
			DialBurst:   cfg.DialBurst,
		})
	}
}

// managerStatsAdapter converts pool.Manager's Stats() into the shape
// observability.SnapshotPublisher expects, without observability having
// to import pool (and risk an import cycle with pool importing
// observability for metrics in the future).
type managerStatsAdapter struct {
	manager *pool.Manager
}

func (a managerStatsAdapter) Stats() map[string]observability.PoolSnapshot {
	src := a.manager.Stats()
	out := make(map[string]observability.PoolSnapshot, len(src))
	for origin, s := range src {
		out[origin] = observability.PoolSnapshot{
			Origin:     s.Origin,
			Starting:   s.Starting,
			BackingOff: s.BackingOff,
			Idle:       s.Idle,
			Leased:     s.Leased,
			QueueDepth: s.QueueDepth,
		}
	}
	return out
}
