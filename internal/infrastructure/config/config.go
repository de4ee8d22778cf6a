package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	Event     EventConfig
	HTTP      HTTPConfig
	Ledger    LedgerConfig
	Scheduler SchedulerConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
	// HideSQL logs statement lengths instead of statements
	HideSQL bool
	// SQLNotFound logs record-not-found lookups as SQL errors
	SQLNotFound bool
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string // file path or ":memory:" when Driver is sqlite
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds the settings for verifying bearer tokens on mutating routes
type JWTConfig struct {
	Secret string
	Issuer string
}

// EventConfig holds event processing configuration
type EventConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	CleanupEnabled   bool
	CleanupRetention time.Duration
	// IdempotencyTTL is how long in-process consumers remember a delivered event id
	IdempotencyTTL time.Duration
	Kafka          KafkaConfig
}

// KafkaConfig holds the optional Kafka sink that receives every delivered ledger event
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	Username     string // SASL/PLAIN; empty disables SASL
	Password     string
	TLS          bool
	WriteTimeout time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
	// RateLimit is the number of requests a client may make per RateWindow; 0 disables limiting
	RateLimit  int
	RateWindow time.Duration
	// RequestTimeout bounds the context handed to handlers
	RequestTimeout time.Duration
	APIVersion     string
}

// Lock backends for per-product allocation locks
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Orphan policies for changes to consumed batches
const (
	OrphanPolicyReject     = "reject"
	OrphanPolicyReallocate = "reallocate"
)

// LedgerConfig holds ledger behaviour settings
type LedgerConfig struct {
	LockBackend   string        // local or redis
	LockTTL       time.Duration // how long a redis lock lives before it must be refreshed
	LockWait      time.Duration // how long to wait for a busy product lock
	OrphanPolicy  string        // reject or reallocate
	SnapshotReads bool          // run reads in a repeatable-read transaction
	ImportMaxDocs int           // upper bound for one import request
}

// SchedulerConfig holds the integrity check schedule
type SchedulerConfig struct {
	Enabled        bool
	IntegrityHour  int
	IntegrityMin   int
	JobTimeout     time.Duration
	ArchiveReports bool // archive the previous day's period report after the check
	RunOnStart     bool // queue the daily jobs once at startup
}

// ArchiveConfig holds S3 settings for rebuild snapshots and report archives
type ArchiveConfig struct {
	Enabled        bool
	Bucket         string
	Region         string
	Endpoint       string // custom endpoint for S3-compatible stores
	AccessKeyID    string
	SecretKey      string
	Prefix         string
	ForcePathStyle bool
	// CreateBucket creates the bucket at startup when it is missing
	CreateBucket bool
	// PresignExpiration is the lifetime of report download links
	PresignExpiration time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	// Continuous profiling (Pyroscope)
	ProfilingEnabled    bool
	ProfilingEndpoint   string // e.g. "http://pyroscope:4040"
	ProfilingUser       string
	ProfilingPassword   string
	ProfilingContention bool // mutex and block profiles
	ProfilingSpans      bool // link CPU profiles to trace spans
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with LEDGER_ prefix (e.g., LEDGER_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom builds the configuration from a prepared viper instance.
// Tests use it to inject values without touching the filesystem.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Format:      v.GetString("log.format"),
			Output:      v.GetString("log.output"),
			HideSQL:     v.GetBool("log.hide_sql"),
			SQLNotFound: v.GetBool("log.sql_not_found"),
		},
		Event: EventConfig{
			ProcessorEnabled: v.GetBool("event.processor_enabled"),
			BatchSize:        v.GetInt("event.batch_size"),
			PollInterval:     v.GetDuration("event.poll_interval"),
			MaxRetries:       v.GetInt("event.max_retries"),
			CleanupEnabled:   v.GetBool("event.cleanup_enabled"),
			CleanupRetention: v.GetDuration("event.cleanup_retention"),
			IdempotencyTTL:   v.GetDuration("event.idempotency_ttl"),
			Kafka: KafkaConfig{
				Enabled:      v.GetBool("event.kafka.enabled"),
				Brokers:      v.GetStringSlice("event.kafka.brokers"),
				Topic:        v.GetString("event.kafka.topic"),
				Username:     v.GetString("event.kafka.username"),
				Password:     v.GetString("event.kafka.password"),
				TLS:          v.GetBool("event.kafka.tls"),
				WriteTimeout: v.GetDuration("event.kafka.write_timeout"),
			},
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			RateLimit:        v.GetInt("http.rate_limit"),
			RateWindow:       v.GetDuration("http.rate_window"),
			RequestTimeout:   v.GetDuration("http.request_timeout"),
			APIVersion:       v.GetString("http.api_version"),
		},
		Ledger: LedgerConfig{
			LockBackend:   v.GetString("ledger.lock_backend"),
			LockTTL:       v.GetDuration("ledger.lock_ttl"),
			LockWait:      v.GetDuration("ledger.lock_wait"),
			OrphanPolicy:  v.GetString("ledger.orphan_policy"),
			SnapshotReads: v.GetBool("ledger.snapshot_reads"),
			ImportMaxDocs: v.GetInt("ledger.import_max_docs"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        v.GetBool("scheduler.enabled"),
			IntegrityHour:  v.GetInt("scheduler.integrity_hour"),
			IntegrityMin:   v.GetInt("scheduler.integrity_minute"),
			JobTimeout:     v.GetDuration("scheduler.job_timeout"),
			ArchiveReports: v.GetBool("scheduler.archive_reports"),
			RunOnStart:     v.GetBool("scheduler.run_on_start"),
		},
		Archive: ArchiveConfig{
			Enabled:        v.GetBool("archive.enabled"),
			Bucket:         v.GetString("archive.bucket"),
			Region:         v.GetString("archive.region"),
			Endpoint:       v.GetString("archive.endpoint"),
			AccessKeyID:    v.GetString("archive.access_key_id"),
			SecretKey:      v.GetString("archive.secret_key"),
			Prefix:         v.GetString("archive.prefix"),
			ForcePathStyle: v.GetBool("archive.force_path_style"),
			CreateBucket:   v.GetBool("archive.create_bucket"),

			PresignExpiration: v.GetDuration("archive.presign_expiration"),
		},
		Telemetry: TelemetryConfig{
			Enabled:             v.GetBool("telemetry.enabled"),
			CollectorEndpoint:   v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:       v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:         v.GetString("telemetry.service_name"),
			Insecure:            v.GetBool("telemetry.insecure"),
			MetricsEnabled:      v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:     v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:         v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:      v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:        v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh:   v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:    v.GetBool("telemetry.profiling_enabled"),
			ProfilingEndpoint:   v.GetString("telemetry.profiling_endpoint"),
			ProfilingUser:       v.GetString("telemetry.profiling_user"),
			ProfilingPassword:   v.GetString("telemetry.profiling_password"),
			ProfilingContention: v.GetBool("telemetry.profiling_contention"),
			ProfilingSpans:      v.GetBool("telemetry.profiling_spans"),
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
		cfg.App.Name = "stockledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
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
		cfg.Database.DBName = "stockledger"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "stockledger.db"
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
		cfg.JWT.Issuer = "stockledger"
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
	if cfg.Event.BatchSize == 0 {
		cfg.Event.BatchSize = 100
	}
	if cfg.Event.PollInterval == 0 {
		cfg.Event.PollInterval = 5 * time.Second
	}
	if cfg.Event.MaxRetries == 0 {
		cfg.Event.MaxRetries = 5
	}
	if cfg.Event.CleanupRetention == 0 {
		cfg.Event.CleanupRetention = 168 * time.Hour
	}
	if cfg.Event.Kafka.Topic == "" {
		cfg.Event.Kafka.Topic = "ledger-events"
	}
	if cfg.Event.Kafka.WriteTimeout == 0 {
		cfg.Event.Kafka.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// rebuilds run inside the request
		cfg.HTTP.WriteTimeout = 5 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = cfg.HTTP.WriteTimeout
	}
	if cfg.HTTP.APIVersion == "" {
		cfg.HTTP.APIVersion = "v1"
	}
	if cfg.HTTP.RateWindow == 0 {
		cfg.HTTP.RateWindow = time.Minute
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.Ledger.LockBackend == "" {
		cfg.Ledger.LockBackend = LockBackendLocal
	}
	if cfg.Ledger.LockTTL == 0 {
		cfg.Ledger.LockTTL = 30 * time.Second
	}
	if cfg.Ledger.LockWait == 0 {
		cfg.Ledger.LockWait = 10 * time.Second
	}
	if cfg.Ledger.OrphanPolicy == "" {
		cfg.Ledger.OrphanPolicy = OrphanPolicyReject
	}
	if cfg.Ledger.ImportMaxDocs == 0 {
		cfg.Ledger.ImportMaxDocs = 1000
	}
	if cfg.Scheduler.IntegrityHour == 0 && cfg.Scheduler.IntegrityMin == 0 {
		cfg.Scheduler.IntegrityHour = 2
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "stockledger/"
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "stockledger"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
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

	switch c.Ledger.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("ledger.lock_backend must be %q or %q, got %q", LockBackendLocal, LockBackendRedis, c.Ledger.LockBackend)
	}
	switch c.Ledger.OrphanPolicy {
	case OrphanPolicyReject, OrphanPolicyReallocate:
	default:
		return fmt.Errorf("ledger.orphan_policy must be %q or %q, got %q", OrphanPolicyReject, OrphanPolicyReallocate, c.Ledger.OrphanPolicy)
	}
	if c.Ledger.LockWait < 0 || c.Ledger.LockTTL <= 0 {
		return fmt.Errorf("ledger.lock_ttl must be positive and ledger.lock_wait cannot be negative")
	}

	if c.Scheduler.IntegrityHour < 0 || c.Scheduler.IntegrityHour > 23 {
		return fmt.Errorf("scheduler.integrity_hour must be between 0 and 23, got %d", c.Scheduler.IntegrityHour)
	}
	if c.Scheduler.IntegrityMin < 0 || c.Scheduler.IntegrityMin > 59 {
		return fmt.Errorf("scheduler.integrity_minute must be between 0 and 59, got %d", c.Scheduler.IntegrityMin)
	}

	if c.Event.Kafka.Enabled && len(c.Event.Kafka.Brokers) == 0 {
		return fmt.Errorf("event.kafka.brokers is required when the kafka sink is enabled")
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}

	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingEndpoint == "" {
		return fmt.Errorf("telemetry.profiling_endpoint is required when profiling is enabled")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Driver == DriverPostgres {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
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
