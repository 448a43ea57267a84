// Package platformconfig defines the configuration schema shared by the
// gateway and orchestrator binaries and the layered loader that resolves it.
package platformconfig

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure shared by cmd/gateway and
// cmd/orchestrator. Each binary only reads the sections relevant to it.
type Config struct {
	App       AppConfig       `koanf:"app"`
	GRPC      GRPCConfig      `koanf:"grpc"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Routes    RoutesConfig    `koanf:"routes"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Audit     AuditConfig     `koanf:"audit"`
	Auth      AuthConfig      `koanf:"auth"`
	Executor  ExecutorConfig  `koanf:"executor"`
	FlowCtl   FlowCtlConfig   `koanf:"flow_control"`
}

// AppConfig holds settings common to any binary in this module.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// GRPCConfig configures the gateway's native gRPC-over-HTTP/2 listener.
type GRPCConfig struct {
	Port              int             `koanf:"port"`
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"`
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"`
	MaxConcurrentConn int             `koanf:"max_concurrent_conn"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
	TLS               TLSConfig       `koanf:"tls"`
}

// KeepAliveConfig controls HTTP/2 ping-based connection liveness.
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// TLSConfig configures server-side TLS termination.
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	CAFile   string `koanf:"ca_file"`
}

// HTTPConfig configures the gateway's REST / gRPC-Web / WebSocket listener.
type HTTPConfig struct {
	Port              int           `koanf:"port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	IdleConnTimeout   time.Duration `koanf:"idle_conn_timeout"`
	CORS              CORSConfig    `koanf:"cors"`
}

// CORSConfig configures the allowed-origin policy for browser clients.
type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

// LogConfig configures structured logging output and rotation.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// RoutesConfig describes where the routing table is sourced from and the
// backend pool's dial behavior (C1/C7).
type RoutesConfig struct {
	FilePath       string        `koanf:"file_path"`
	DialTimeout    time.Duration `koanf:"dial_timeout"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	MaxRecvMsgSize int           `koanf:"max_recv_msg_size"`
	MaxSendMsgSize int           `koanf:"max_send_msg_size"`
}

// DatabaseConfig configures the Postgres-backed ticket store (C9/C11).
type DatabaseConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns a libpq-style connection string for the configured database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// CacheConfig configures the optional Redis read-through layer in front of
// the ticket store.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
}

// Address returns the Redis server's host:port address.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuditConfig configures the ticket-mutation audit trail.
type AuditConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Backend     string        `koanf:"backend"` // stdout, file
	FilePath    string        `koanf:"file_path"`
	BufferSize  int           `koanf:"buffer_size"`
	FlushPeriod time.Duration `koanf:"flush_period"`
}

// AuthConfig configures the gateway's token validator (C8 auth concern).
type AuthConfig struct {
	Enabled       bool     `koanf:"enabled"`
	JWKSURL       string   `koanf:"jwks_url"`
	Issuer        string   `koanf:"issuer"`
	Audience      string   `koanf:"audience"`
	HMACSecret    string   `koanf:"hmac_secret"`
	AllowedAlgs   []string `koanf:"allowed_algs"`
}

// ExecutorConfig configures the local batch executor (C10).
type ExecutorConfig struct {
	SandboxRoot     string        `koanf:"sandbox_root"`
	MaxConcurrent   int           `koanf:"max_concurrent"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	ProcessTimeout  time.Duration `koanf:"process_timeout"`
	StderrTailLines int           `koanf:"stderr_tail_lines"`
}

// FlowCtlConfig holds flow-control settings under flow_control. The
// flow-control bridge (C6) does not read them; flowctl.NewBridge takes its
// initial window as an argument.
type FlowCtlConfig struct {
	InitialWindowSize   int32         `koanf:"initial_window_size"`
	MaxWindowSize       int32         `koanf:"max_window_size"`
	CreditSweepInterval time.Duration `koanf:"credit_sweep_interval"`
}

// Validate applies cross-field sanity checks beyond what the loader's
// defaults already guarantee.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Sprintf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Executor.MaxConcurrent < 0 {
		errs = append(errs, "executor.max_concurrent must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the app is configured for local development.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the app is configured for production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
