// Command server runs the registry backend: the EPP command endpoint plus
// the background billing, escrow, and history publication workers. main only
// wires dependencies; behavior lives in the internal packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"eppd/internal/batch"
	"eppd/internal/flows"
	"eppd/internal/platform/config"
	"eppd/internal/platform/httpserver"
	"eppd/internal/platform/logger"
	"eppd/internal/platform/metrics"
	platformredis "eppd/internal/platform/redis"
	"eppd/internal/registry"
	"eppd/internal/storage"
	transporthttp "eppd/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var store storage.Store
	var health []transporthttp.HealthChecker
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := storage.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		health = append(health, poolHealth{pool})
	} else {
		log.Warn("no database configured, running on the in-memory store")
		store = storage.NewMemoryStore()
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		health = append(health, redisClient)
	}

	provider, err := buildRegistry(cfg, log, redisClient)
	if err != nil {
		return err
	}

	sessions := flows.NewSessionManager([]byte(cfg.JWTSigningKey), cfg.SessionTTL)
	m := metrics.New()
	exec := flows.NewExecutor(store, provider, sessions,
		flows.WithLogger(log),
		flows.WithMetrics(m),
		flows.WithMaxAttempts(cfg.TxMaxAttempts))

	srv := httpserver.New(cfg.Addr, transporthttp.NewRouter(exec, log, health...))

	var workers sync.WaitGroup
	start := func(w batch.Worker, interval time.Duration) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			batch.Run(ctx, w, interval, log)
		}()
	}

	clock := batch.SystemClock{}
	start(batch.NewRecurringBiller(store, provider, clock, log, m), cfg.BillingInterval)

	if cfg.EscrowDir != "" {
		uploader, err := batch.NewDirUploader(cfg.EscrowDir)
		if err != nil {
			return err
		}
		tlds, err := provider.TLDNames(ctx)
		if err != nil {
			return err
		}
		for _, tld := range tlds {
			start(batch.NewEscrowWorker(store, uploader, clock, log, m, tld, cfg.EscrowPeriod), cfg.EscrowInterval)
			start(batch.NewBRDAWorker(store, uploader, clock, log, tld), cfg.EscrowInterval)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := batch.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer publisher.Close()
		start(batch.NewHistoryOutbox(store, publisher, clock, log, m), cfg.OutboxInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	workers.Wait()
	return nil
}

// buildRegistry loads the TLD and registrar configuration, wrapping it in
// the TTL cache when one is enabled.
func buildRegistry(cfg config.Config, log *slog.Logger, redisClient *platformredis.Client) (registry.Provider, error) {
	var base registry.Provider
	if cfg.RegistryConfigPath != "" {
		loaded, err := registry.LoadFile(cfg.RegistryConfigPath)
		if err != nil {
			return nil, err
		}
		base = loaded
	} else {
		log.Warn("no registry config, serving built-in development TLDs")
		base = devRegistry()
	}
	if cfg.RegistryCacheTTL <= 0 {
		return base, nil
	}
	var opts []registry.CacheOption
	if redisClient != nil {
		opts = append(opts, registry.WithRedis(redisClient.Client))
	}
	return registry.NewCachedProvider(base, cfg.RegistryCacheTTL, opts...), nil
}

func devRegistry() *registry.StaticProvider {
	return registry.NewStaticProvider(
		[]*registry.TLD{{
			Name:              "test",
			Phase:             registry.PhaseGeneralAvailability,
			CreateCostCents:   800,
			RenewCostCents:    800,
			TransferCostCents: 800,
			RestoreCostCents:  4000,
			Currency:          "USD",
		}},
		[]*registry.Registrar{{ID: "registrar-a", Password: "dev-password", Active: true}},
	)
}

// poolHealth adapts the pgx pool to the router's health check.
type poolHealth struct {
	pool *pgxpool.Pool
}

func (p poolHealth) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
