// Command orchestrator runs lib-orch: the ticket-based revision-numbered
// job cache (C9) and the local sandboxed batch executor (C10), exposed as
// a JSON HTTP API (C13) for callers that stage work for the gateway's
// backends to pick up.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracdap/platform-gateway/internal/audit"
	"github.com/tracdap/platform-gateway/internal/metrics"
	"github.com/tracdap/platform-gateway/internal/obslog"
	"github.com/tracdap/platform-gateway/internal/orch/api"
	"github.com/tracdap/platform-gateway/internal/orch/cache"
	"github.com/tracdap/platform-gateway/internal/orch/database"
	"github.com/tracdap/platform-gateway/internal/orch/executor"
	"github.com/tracdap/platform-gateway/internal/platformconfig"
	"github.com/tracdap/platform-gateway/internal/telemetry"
)

func main() {
	cfg, err := platformconfig.NewLoader(
		platformconfig.WithConfigPaths("config/orchestrator.yaml", "/etc/tracdap-gateway/orchestrator.yaml"),
		platformconfig.WithEnvPrefix("TRACDAP_ORCH_"),
	).Load()
	if err != nil {
		obslog.Init("error")
		obslog.Fatal("failed to load configuration", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		obslog.Init("error")
		obslog.Fatal("invalid configuration", "error", err)
	}

	obslog.InitWithConfig(obslog.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	obslog.Info("starting lib-orch", "version", cfg.App.Version, "environment", cfg.App.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		provider, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     cfg.Tracing.Enabled,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			obslog.Fatal("failed to initialize tracing", "error", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
	}

	metricsInstance := metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	metricsInstance.SetServiceInfo(cfg.App.Version, cfg.App.Environment)

	auditLogger, err := audit.New(&audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Backend:     cfg.Audit.Backend,
		FilePath:    cfg.Audit.FilePath,
		BufferSize:  cfg.Audit.BufferSize,
		FlushPeriod: cfg.Audit.FlushPeriod,
	})
	if err != nil {
		obslog.Fatal("failed to initialize audit logger", "error", err)
	}
	audit.SetGlobal(auditLogger)
	defer auditLogger.Close()

	engine, closeEngine, err := buildCacheEngine(ctx, &cfg.Database, &cfg.Cache)
	if err != nil {
		obslog.Fatal("failed to initialize ticket cache", "error", err)
	}
	defer closeEngine()

	batchExecutor := executor.NewLocalExecutor(cfg.Executor.SandboxRoot, cfg.Executor.StderrTailLines)

	router := api.New(&api.API{Cache: engine, Executor: batchExecutor})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		obslog.Info("orchestrator listening", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.Fatal("orchestrator server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	obslog.Info("shutting down orchestrator")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		obslog.Error("orchestrator shutdown error", "error", err)
	}
	obslog.Info("orchestrator stopped")
}

// buildCacheEngine resolves the ticket engine per cfg.Database/cfg.Cache:
// Postgres-backed storage, optionally fronted by the Redis read-through
// decorator when cfg.Cache.Enabled. The returned close func releases
// whichever resources were opened.
func buildCacheEngine(ctx context.Context, dbCfg *platformconfig.DatabaseConfig, cacheCfg *platformconfig.CacheConfig) (cache.Engine, func(), error) {
	db, err := database.NewPostgresDB(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.RunMigrations(ctx, db.Pool(), dbCfg); err != nil {
		db.Close()
		return nil, nil, err
	}

	var engine cache.Engine = cache.NewPostgresEngine(db)
	closers := []func(){db.Close}

	if cacheCfg.Enabled {
		readThrough, err := cache.NewReadThroughEngine(ctx, engine, cache.RedisOptions{
			Addr:       cacheCfg.Address(),
			Password:   cacheCfg.Password,
			DB:         cacheCfg.DB,
			DefaultTTL: cacheCfg.DefaultTTL,
		})
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		engine = readThrough
		closers = append([]func(){func() { _ = readThrough.Close() }}, closers...)
	}

	return engine, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}
