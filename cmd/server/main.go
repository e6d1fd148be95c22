package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/config"
	apprepository "github.com/sifan077/shortlinkd/internal/app/repository"
	appserver "github.com/sifan077/shortlinkd/internal/app/server"
	appservice "github.com/sifan077/shortlinkd/internal/app/service"
	"github.com/sifan077/shortlinkd/internal/app/usecase"
	"github.com/sifan077/shortlinkd/internal/codegen"
	"github.com/sifan077/shortlinkd/internal/http/handler"
	"github.com/sifan077/shortlinkd/internal/infra/logger"
	infraNATS "github.com/sifan077/shortlinkd/internal/infra/nats"
	infraPostgres "github.com/sifan077/shortlinkd/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/shortlinkd/internal/infra/prometheus"
	infraRedis "github.com/sifan077/shortlinkd/internal/infra/redis"
	"github.com/sifan077/shortlinkd/internal/kv"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		logger.MustInit(logger.Config{Development: true}).Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.MustInit(logger.Config{
		Development: !cfg.IsProduction(),
		Level:       cfg.App.LogLevel,
		File:        cfg.App.LogFile,
	})
	defer func() { _ = logger.Sync() }()

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.App.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("table", cfg.ShortLink.TableName),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Bool("sweeper_enabled", cfg.Sweeper.Enabled),
		zap.Bool("prometheus_enabled", cfg.Prometheus.Enabled),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := infraPrometheus.NewMetrics(registry)
	if err != nil {
		log.Fatal("Failed to register metrics", zap.Error(err))
	}

	if cfg.Prometheus.Enabled {
		promServer := infraPrometheus.NewServer(cfg.Prometheus, registry)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Prometheus metrics server disabled")
	}

	checks := map[string]handler.HealthCheck{}
	storeOpts := []kv.Option{kv.WithTTLAttribute(apprepository.TTLAttribute)}

	var (
		store       kv.Store
		redisClient *redis.Client
	)
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to open GORM connection", zap.Error(err))
		}
		if err := infraPostgres.Migrate(ctx, gormDB); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}
		if err := infraPostgres.CloseGorm(gormDB); err != nil {
			log.Warn("Failed to close migration connection", zap.Error(err))
		}

		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()
		log.Info("Connected to Postgres successfully",
			zap.String("host", cfg.Postgres.Host),
			zap.Int("port", cfg.Postgres.Port),
			zap.String("database", cfg.Postgres.Database),
		)

		store = infraPostgres.NewStore(pool, storeOpts...)
		checks["postgres"] = pool.Ping
	case config.BackendRedis:
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		log.Info("Connected to Redis successfully",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port),
		)
		store = infraRedis.NewStore(redisClient, storeOpts...)
	default:
		log.Warn("Using in-memory storage, data is lost on restart")
		store = kv.NewMemoryStore(storeOpts...)
	}

	// The rate limiter needs Redis even when links live elsewhere.
	if redisClient == nil && cfg.Server.RateLimit > 0 && cfg.Redis.Host != "" {
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, rate limiting disabled", zap.Error(err))
			redisClient = nil
		}
	}
	var limiter redis.UniversalClient
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		limiter = redisClient
	}

	gen, err := codegen.NewRandom(cfg.ShortLink.CodeLength)
	if err != nil {
		log.Fatal("Invalid short code configuration", zap.Error(err))
	}

	repo := apprepository.NewShortLinkRepository(kv.Instrument(store, metrics), gen, apprepository.Options{
		Table:      cfg.ShortLink.TableName,
		MaxRetries: cfg.ShortLink.MaxRetries,
		ExpiryDays: cfg.ShortLink.ExpireDays,
		PageTokens: apprepository.NewPageTokenCodec([]byte(cfg.Server.CursorSecret)),
		Logger:     log.Named("repository"),
		Observer:   metrics,
	})

	var (
		events usecase.EventPublisher = appservice.NopPublisher{}
		clicks usecase.ClickPublisher = appservice.NopPublisher{}
	)
	if cfg.NATS.Enabled {
		natsConn, js, err := infraNATS.Connect(cfg.NATS)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer func() {
			if err := natsConn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				log.Warn("Failed to drain NATS connection", zap.Error(err))
			}
		}()
		log.Info("Connected to NATS successfully", zap.String("url", natsConn.ConnectedUrl()))

		linkEvents, err := appservice.NewLinkEventPublisher(js)
		if err != nil {
			log.Fatal("Failed to create link event publisher", zap.Error(err))
		}
		clickPublisher, err := appservice.NewClickPublisher(js)
		if err != nil {
			log.Fatal("Failed to create click publisher", zap.Error(err))
		}
		events, clicks = linkEvents, clickPublisher

		consumer := appservice.NewClickConsumer(js, log.Named("clicks"), repo)
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Failed to start click consumer", zap.Error(err))
		}
		defer consumer.Stop()

		checks["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrDisconnected
			}
			return nil
		}
	}

	if cfg.Sweeper.Enabled {
		sweeper, err := appservice.NewExpirySweeper(log.Named("sweeper"), repo, metrics, cfg.Sweeper.Schedule)
		if err != nil {
			log.Fatal("Failed to create expiry sweeper", zap.Error(err))
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	useCases := usecase.New(usecase.Deps{
		Repo:     repo,
		Events:   events,
		Clicks:   clicks,
		Observer: metrics,
		Logger:   log.Named("usecase"),
	})

	server, err := appserver.New(appserver.Dependencies{
		Logger:   log,
		Config:   cfg.Server,
		UseCases: useCases,
		Redis:    limiter,
		Checks:   checks,
	})
	if err != nil {
		log.Fatal("Failed to create HTTP server", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		serverErr <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down HTTP server", zap.Error(err))
	}
	log.Info("Server stopped")
}
