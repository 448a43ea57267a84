package platformconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "TRACDAP_GW_"
	configEnvVar = "CONFIG_PATH"
)

// Loader resolves a Config from defaults, an optional YAML file, and
// environment variable overrides, in that order of increasing priority.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/tracdap-gateway/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption customizes Loader construction.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the list of candidate config file paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load resolves the configuration with priority:
//  1. Defaults (lowest)
//  2. Config file (yaml)
//  3. Environment variables (highest)
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		// A config file is optional; env vars and defaults can carry the load.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "tracdap-gateway",
		"app.version":     "0.1.0",
		"app.environment": "development",
		"app.debug":       false,

		"grpc.port":                               50051,
		"grpc.max_recv_msg_size":                  16 * 1024 * 1024,
		"grpc.max_send_msg_size":                  16 * 1024 * 1024,
		"grpc.max_concurrent_conn":                1000,
		"grpc.keepalive.max_connection_idle":      15 * time.Minute,
		"grpc.keepalive.max_connection_age":       30 * time.Minute,
		"grpc.keepalive.max_connection_age_grace": 5 * time.Minute,
		"grpc.keepalive.time":                     5 * time.Minute,
		"grpc.keepalive.timeout":                  20 * time.Second,
		"grpc.tls.enabled":                         false,

		"http.port":                   8080,
		"http.read_timeout":           30 * time.Second,
		"http.write_timeout":          30 * time.Second,
		"http.shutdown_timeout":       10 * time.Second,
		"http.idle_conn_timeout":      2 * time.Minute,
		"http.cors.enabled":           true,
		"http.cors.allowed_origins":   []string{"*"},
		"http.cors.allowed_methods":   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		"http.cors.allowed_headers":   []string{"*"},
		"http.cors.allow_credentials": false,
		"http.cors.max_age":           86400,

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "tracdap_gateway",
		"metrics.subsystem": "",

		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "tracdap-gateway",
		"tracing.sample_rate":  0.1,

		"routes.file_path":          "routes.yaml",
		"routes.dial_timeout":       5 * time.Second,
		"routes.idle_timeout":       10 * time.Minute,
		"routes.max_retries":        3,
		"routes.retry_backoff":      200 * time.Millisecond,
		"routes.max_recv_msg_size":  64 * 1024 * 1024,
		"routes.max_send_msg_size":  64 * 1024 * 1024,

		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "tracdap_orch",
		"database.username":           "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.migrations_path":    "migrations",
		"database.auto_migrate":       true,

		"cache.enabled":     false,
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 5 * time.Minute,

		"audit.enabled":      true,
		"audit.backend":      "stdout",
		"audit.buffer_size":  1000,
		"audit.flush_period": 5 * time.Second,

		"auth.enabled":      true,
		"auth.allowed_algs": []string{"RS256", "HS256"},

		"executor.sandbox_root":       "/var/lib/tracdap-gateway/sandbox",
		"executor.max_concurrent":     8,
		"executor.poll_interval":      500 * time.Millisecond,
		"executor.process_timeout":    30 * time.Minute,
		"executor.stderr_tail_lines":  50,

		"flow_control.initial_window_size":    65535,
		"flow_control.max_window_size":        4 * 1024 * 1024,
		"flow_control.credit_sweep_interval":  1 * time.Second,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		// TRACDAP_GW_GRPC_PORT -> grpc.port
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, l.envPrefix)),
			"_", ".",
		)
	}), nil)
}

// MustLoad loads the configuration or panics. Intended for use in cmd/main
// where a misconfigured process should fail fast.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load loads the configuration with default loader settings.
func Load() (*Config, error) {
	return NewLoader().Load()
}
