// Command authcore-server runs the authentication endpoints against
// Postgres and Redis.
//
//	authcore-server -config authcore.yaml
//
// A .env file in the working directory is loaded before the environment
// overrides are applied.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/pgstore"
	"github.com/MrEthical07/authcore/redisstore"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	db, err := pgstore.Open(ctx, cfg.Database.DSN, pgstore.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := pgstore.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	var store refresh.Store = pgstore.NewRefreshStore(db)
	if cfg.Refresh.Backend == "redis" {
		store = redisstore.New(rdb, cfg.Refresh.Prefix)
	}
	logger.Info("refresh store", zap.String("backend", cfg.Refresh.Backend))

	builder := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithRefreshStore(store).
		WithUserProvider(pgstore.NewUserStore(db)).
		WithLogger(logger)
	if cfg.Audit.Enabled {
		builder = builder.WithAuditSink(authcore.NewZapSink(logger))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	api := httpapi.New(engine, httpapi.Config{
		SecureCookie: cfg.HTTP.SecureCookie,
		TrustProxy:   cfg.HTTP.TrustProxy,
		CookiePath:   "/auth",
	}, logger.Named("http"))

	mux := http.NewServeMux()
	mux.Handle("/auth/", http.StripPrefix("/auth", api.Routes()))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, prometheus.New(engine))
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
