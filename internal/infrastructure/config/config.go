package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VET_DATABASE_PASSWORD
const EnvPrefix = "VET"

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Ledger         LedgerConfig
	Reconciliation ReconciliationConfig
	Outbox         OutboxConfig
	Audit          AuditConfig
	Telemetry      TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // minutes
	ConnMaxIdleTime int // minutes
}

// RedisConfig holds Redis connection settings. Redis only backs idempotent
// request replay; without it an in-memory store is used.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the settings to verify access tokens issued by the
// identity service
type JWTConfig struct {
	Secret                string
	Issuer                string
	AccessTokenExpiration time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRPS      float64 // sustained mutating requests per second per client
	RateLimitBurst    int
	IdempotencyTTL    time.Duration
	CORSAllowOrigins  []string
	CORSAllowMethods  []string
	CORSAllowHeaders  []string
	TrustedProxies    []string
	ShutdownTimeout   time.Duration
}

// LedgerConfig tunes transaction code generation
type LedgerConfig struct {
	CodeMaxAttempts     int
	CodeInitialInterval time.Duration
	CodeMaxInterval     time.Duration
}

// ReconciliationConfig controls the periodic reconciliation job
type ReconciliationConfig struct {
	Enabled    bool
	Interval   time.Duration
	RunTimeout time.Duration
	// RunOnStart reconciles once right after startup
	RunOnStart bool
}

// OutboxConfig controls side effect delivery
type OutboxConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	CleanupEnabled   bool
	CleanupRetention time.Duration
	StaleAfter       time.Duration
}

// AuditConfig controls the asynchronous audit writer
type AuditConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// TelemetryConfig holds OpenTelemetry and profiling configuration
type TelemetryConfig struct {
	Enabled               bool
	CollectorEndpoint     string
	SamplingRatio         float64
	ServiceName           string
	Insecure              bool
	MetricsEnabled        bool
	MetricsExportInterval time.Duration
	LogsEnabled           bool
	DBTraceEnabled        bool
	DBLogFullSQL          bool
	DBSlowQueryThresh     time.Duration
	ProfilingEnabled      bool
	ProfilingServer       string
	ProfilingContention   bool
}

// Load reads config.toml from the working directory or /app, then applies
// VET_ environment overrides and defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			Issuer:                v.GetString("jwt.issuer"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			RateLimitEnabled: v.GetBool("http.rate_limit_enabled"),
			RateLimitRPS:     v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:   v.GetInt("http.rate_limit_burst"),
			IdempotencyTTL:   v.GetDuration("http.idempotency_ttl"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
		},
		Ledger: LedgerConfig{
			CodeMaxAttempts:     v.GetInt("ledger.code_max_attempts"),
			CodeInitialInterval: v.GetDuration("ledger.code_initial_interval"),
			CodeMaxInterval:     v.GetDuration("ledger.code_max_interval"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:    v.GetBool("reconciliation.enabled"),
			Interval:   v.GetDuration("reconciliation.interval"),
			RunTimeout: v.GetDuration("reconciliation.run_timeout"),
			RunOnStart: v.GetBool("reconciliation.run_on_start"),
		},
		Outbox: OutboxConfig{
			ProcessorEnabled: v.GetBool("outbox.processor_enabled"),
			BatchSize:        v.GetInt("outbox.batch_size"),
			PollInterval:     v.GetDuration("outbox.poll_interval"),
			MaxRetries:       v.GetInt("outbox.max_retries"),
			CleanupEnabled:   v.GetBool("outbox.cleanup_enabled"),
			CleanupRetention: v.GetDuration("outbox.cleanup_retention"),
			StaleAfter:       v.GetDuration("outbox.stale_after"),
		},
		Audit: AuditConfig{
			QueueSize:     v.GetInt("audit.queue_size"),
			BatchSize:     v.GetInt("audit.batch_size"),
			FlushInterval: v.GetDuration("audit.flush_interval"),
		},
		Telemetry: TelemetryConfig{
			Enabled:               v.GetBool("telemetry.enabled"),
			CollectorEndpoint:     v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:         v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:           v.GetString("telemetry.service_name"),
			Insecure:              v.GetBool("telemetry.insecure"),
			MetricsEnabled:        v.GetBool("telemetry.metrics_enabled"),
			MetricsExportInterval: v.GetDuration("telemetry.metrics_export_interval"),
			LogsEnabled:           v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:        v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:          v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh:     v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:      v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:       v.GetString("telemetry.profiling_server"),
			ProfilingContention:   v.GetBool("telemetry.profiling_contention"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "vet-ledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "vetclinic"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "vetclinic"
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 2 << 20
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 10
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 20
	}
	if cfg.HTTP.IdempotencyTTL == 0 {
		cfg.HTTP.IdempotencyTTL = 24 * time.Hour
	}
	// No default origins: cross-origin calls stay blocked until configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"}
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Ledger.CodeMaxAttempts == 0 {
		cfg.Ledger.CodeMaxAttempts = 5
	}
	if cfg.Ledger.CodeInitialInterval == 0 {
		cfg.Ledger.CodeInitialInterval = 10 * time.Millisecond
	}
	if cfg.Ledger.CodeMaxInterval == 0 {
		cfg.Ledger.CodeMaxInterval = 500 * time.Millisecond
	}

	if cfg.Reconciliation.Interval == 0 {
		cfg.Reconciliation.Interval = 24 * time.Hour
	}
	if cfg.Reconciliation.RunTimeout == 0 {
		cfg.Reconciliation.RunTimeout = 30 * time.Minute
	}

	if cfg.Outbox.BatchSize == 0 {
		cfg.Outbox.BatchSize = 100
	}
	if cfg.Outbox.PollInterval == 0 {
		cfg.Outbox.PollInterval = 2 * time.Second
	}
	if cfg.Outbox.MaxRetries == 0 {
		cfg.Outbox.MaxRetries = 5
	}
	if cfg.Outbox.CleanupRetention == 0 {
		cfg.Outbox.CleanupRetention = 7 * 24 * time.Hour
	}
	if cfg.Outbox.StaleAfter == 0 {
		cfg.Outbox.StaleAfter = 5 * time.Minute
	}

	if cfg.Audit.QueueSize == 0 {
		cfg.Audit.QueueSize = 1024
	}
	if cfg.Audit.BatchSize == 0 {
		cfg.Audit.BatchSize = 50
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = time.Second
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsExportInterval == 0 {
		cfg.Telemetry.MetricsExportInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Ledger.CodeMaxAttempts < 1 {
		return fmt.Errorf("ledger.code_max_attempts must be at least 1")
	}
	if c.Ledger.CodeMaxInterval < c.Ledger.CodeInitialInterval {
		return fmt.Errorf("ledger.code_max_interval cannot be shorter than ledger.code_initial_interval")
	}
	if c.Reconciliation.Enabled && c.Reconciliation.Interval < time.Minute {
		return fmt.Errorf("reconciliation.interval must be at least 1m, got %s", c.Reconciliation.Interval)
	}
	if c.Outbox.MaxRetries < 1 {
		return fmt.Errorf("outbox.max_retries must be at least 1")
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		return fmt.Errorf("http rate limit values cannot be negative")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingServer == "" {
		return fmt.Errorf("telemetry.profiling_server is required when profiling is enabled")
	}

	if c.App.Env == "production" {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
