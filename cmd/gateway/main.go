// Command gateway runs the tracdap-gateway multi-protocol front door:
// REST, gRPC-Web, gRPC-over-WebSocket and native HTTP/2 gRPC clients all
// land on one listener and are translated onto a pool of backend gRPC
// connections per the routing table.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"

	"github.com/tracdap/platform-gateway/internal/gateway/concern"
	"github.com/tracdap/platform-gateway/internal/gateway/handler"
	"github.com/tracdap/platform-gateway/internal/gateway/negotiate"
	"github.com/tracdap/platform-gateway/internal/gateway/proxy"
	"github.com/tracdap/platform-gateway/internal/gateway/route"
	"github.com/tracdap/platform-gateway/internal/metrics"
	"github.com/tracdap/platform-gateway/internal/obslog"
	"github.com/tracdap/platform-gateway/internal/platformconfig"
	"github.com/tracdap/platform-gateway/internal/telemetry"
)

func main() {
	cfg, err := platformconfig.NewLoader(
		platformconfig.WithConfigPaths("config/gateway.yaml", "/etc/tracdap-gateway/gateway.yaml"),
		platformconfig.WithEnvPrefix("TRACDAP_GW_"),
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

	obslog.Info("starting tracdap-gateway",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

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

	routes, err := route.LoadFile(cfg.Routes.FilePath)
	if err != nil {
		obslog.Fatal("failed to load routing table", "error", err)
	}
	routeTable := route.NewTable(routes)

	proxyMgr := proxy.NewManager(proxy.Config{
		DialTimeout:        cfg.Routes.DialTimeout,
		IdleEvictionPeriod: cfg.Routes.IdleTimeout,
		MaxRecvMsgSize:     cfg.Routes.MaxRecvMsgSize,
		MaxSendMsgSize:     cfg.Routes.MaxSendMsgSize,
	})
	defer proxyMgr.Close()

	gatewayHandler := handler.New(routeTable, proxyMgr)

	var concernCfg concern.Config
	if cfg.Auth.Enabled {
		concernCfg.Validator = concern.NewHMACValidator(cfg.Auth.HMACSecret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.AllowedAlgs)
	}

	// Native gRPC clients are terminated by a real grpc.Server rather than
	// reverse-proxied at the HTTP level: UnknownServiceHandler proxies every
	// call generically (see handler.GRPCProxyHandler), while still giving
	// the auth/logging/metrics/error-mapping concern chain a call path to
	// attach to, the same as it would for a gateway that served its own
	// services.
	grpcServer := grpc.NewServer(
		handler.ServerCodecOption(),
		grpc.UnknownServiceHandler(handler.GRPCProxyHandler(routeTable, proxyMgr)),
		concern.UnaryServerOptions(concernCfg),
		concern.StreamServerOptions(concernCfg),
	)

	mux := http.NewServeMux()
	mux.Handle("/", gatewayHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/ready", handleReady(proxyMgr, routeTable))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	negotiateCfg := negotiate.Config{
		IdleTimeout:          cfg.HTTP.IdleConnTimeout,
		MaxConcurrentStreams: uint32(cfg.GRPC.MaxConcurrentConn),
	}

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc") {
			grpcServer.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	var httpHandler http.Handler = negotiate.New(negotiateCfg, root, func(conn *websocket.Conn, r *http.Request) {
		gatewayHandler.ServeWebSocket(conn, r)
	})
	httpHandler = negotiate.WrapH2C(httpHandler, negotiateCfg)
	if cfg.HTTP.CORS.Enabled {
		httpHandler = corsMiddleware(cfg.HTTP.CORS.AllowedOrigins, cfg.HTTP.CORS.AllowedMethods, cfg.HTTP.CORS.AllowedHeaders, httpHandler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	if cfg.GRPC.TLS.Enabled {
		if err := negotiate.ConfigureTLSServer(server, negotiateCfg); err != nil {
			obslog.Fatal("failed to configure TLS ALPN", "error", err)
		}
	}

	go func() {
		obslog.Info("gateway listening", "port", cfg.HTTP.Port, "protocol", "HTTP/1.1 + H2C + gRPC-Web + WebSocket")
		var err error
		if cfg.GRPC.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.GRPC.TLS.CertFile, cfg.GRPC.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			obslog.Fatal("gateway server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	obslog.Info("shutting down gateway")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		obslog.Error("gateway shutdown error", "error", err)
	}
	grpcServer.GracefulStop()
	obslog.Info("gateway stopped")
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReady health-checks every distinct backend target named by the
// routing table and reports readiness only once all of them respond.
func handleReady(mgr *proxy.Manager, routes *route.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets := routes.DistinctTargets()
		results := make(map[string]string, len(targets))
		allHealthy := true
		for _, target := range targets {
			if err := mgr.HealthCheck(r.Context(), target); err != nil {
				results[target.Address()] = "unhealthy: " + err.Error()
				allHealthy = false
			} else {
				results[target.Address()] = "healthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   readyStatus(allHealthy),
			"backends": results,
		})
	}
}

func readyStatus(healthy bool) string {
	if healthy {
		return "ready"
	}
	return "degraded"
}

func corsMiddleware(origins, methods, headers []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{}
	for _, o := range origins {
		allowedOrigins[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowedOrigins["*"] || allowedOrigins[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(methods, "GET, POST, PUT, PATCH, DELETE"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(headers, "Content-Type, Authorization, X-Grpc-Web"))
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func joinOrDefault(values []string, def string) string {
	if len(values) == 0 {
		return def
	}
	out := values[0]
	for _, v := range values[1:] {
		out += ", " + v
	}
	return out
}
