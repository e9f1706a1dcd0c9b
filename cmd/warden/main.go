package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/warden/internal/audit"
	"github.com/af-corp/warden/internal/auth"
	"github.com/af-corp/warden/internal/concurrency"
	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/dispatch"
	"github.com/af-corp/warden/internal/dispatch/providers"
	"github.com/af-corp/warden/internal/gateway"
	"github.com/af-corp/warden/internal/pipeline"
	"github.com/af-corp/warden/internal/policy"
	"github.com/af-corp/warden/internal/ratelimit"
	"github.com/af-corp/warden/internal/sanitizer"
	"github.com/af-corp/warden/internal/supervisor"
	"github.com/af-corp/warden/internal/telemetry"
	"github.com/af-corp/warden/internal/tools"
	"github.com/af-corp/warden/internal/vetting"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (server will start but auth will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (surface limits and caches disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Admission stages
	san, err := sanitizer.New(func() config.SanitizerConfig { return loader.Config().Sanitizer })
	if err != nil {
		logger.Error("failed to build sanitizer", "error", err)
		os.Exit(1)
	}

	var rego *policy.RegoEvaluator
	if cfg.Policy.Rego.Enabled {
		rego = policy.NewRegoEvaluator(func() config.RegoConfig { return loader.Config().Policy.Rego })
		if err := rego.Load(); err != nil {
			logger.Error("failed to load rego policies", "error", err)
			os.Exit(1)
		}
	}
	gate := policy.NewGate(func() config.PolicyConfig { return loader.Config().Policy }, rego)

	// Provider stack
	classifier, err := dispatch.NewClassifier(func() config.RoutingConfig { return loader.Config().Routing })
	if err != nil {
		logger.Error("failed to compile routing triggers", "error", err)
		os.Exit(1)
	}
	budget := dispatch.NewBudgetTracker(rdb)
	health := dispatch.NewHealthTracker(5, 30*time.Second)
	dispatcher, err := dispatch.BuildFromConfig(loader.Providers(), classifier, budget, health, logger)
	if err != nil {
		logger.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}

	// Semantic judge rides on the configured judge provider.
	var judge vetting.Judge
	if name := cfg.Vetting.JudgeProvider; name != "" {
		provCfg, ok := loader.Providers().Providers[name]
		if !ok {
			logger.Error("judge provider not configured", "provider", name)
			os.Exit(1)
		}
		client, err := providers.NewClient(name, provCfg)
		if err != nil {
			logger.Error("failed to build judge client", "error", err)
			os.Exit(1)
		}
		judge = vetting.NewLLMJudge(client)
	}
	vetter, err := vetting.New(func() config.VettingConfig { return loader.Config().Vetting }, judge)
	if err != nil {
		logger.Error("failed to build vetter", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewLimiter(func() config.RateLimitConfig { return loader.Config().RateLimit })
	governor := concurrency.NewGovernor(func() config.ConcurrencyConfig { return loader.Config().Concurrency })
	sup := supervisor.New(func() config.ExecutionConfig { return loader.Config().Execution }, logger)

	loader.OnReload(func() {
		if err := san.Reload(); err != nil {
			logger.Error("sanitizer reload failed, keeping previous rules", "error", err)
		}
		gate.Reload()
		if err := vetter.Reload(); err != nil {
			logger.Error("vetter reload failed, keeping previous rules", "error", err)
		}
		if err := classifier.Reload(); err != nil {
			logger.Error("classifier reload failed, keeping previous triggers", "error", err)
		}
		logger.Info("pipeline configuration reloaded")
	})

	metrics := telemetry.NewMetrics()

	// Audit trail: structured log always, database when reachable, and the
	// decision counters ride the same fan-out.
	sink := audit.MultiSink{
		audit.NewLogSink(logger),
		audit.NewStore(dbPool, logger),
		telemetry.NewDecisionSink(metrics),
	}

	p := pipeline.New(san, gate, vetter, limiter, governor, sup, dispatcher, tools.NewRegistry(), sink, logger)

	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	handler := gateway.NewHandler(p, ratelimit.NewSurfaceLimiter(rdb), loader.Config, metrics)

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/warden/v1/health", handler.Health)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keyStore))
		r.Post("/v1/requests", handler.HandleRequest)
	})

	// Metrics on a separate listener so it never sits behind key auth
	if port := cfg.Telemetry.MetricsPort; port > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
			logger.Info("metrics listener starting", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("warden starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("warden stopped")
}
