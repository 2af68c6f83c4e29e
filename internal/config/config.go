package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Engine    EngineConfig
	Store     StoreConfig
	Messaging MessagingConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines caller token parameters. An empty secret disables token checks.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// Enabled reports whether internal callers must present a token.
func (a AuthConfig) Enabled() bool {
	return strings.TrimSpace(a.JWTSecret) != ""
}

// EngineConfig carries the routing engine thresholds.
type EngineConfig struct {
	InactivityTimeout time.Duration
	ReapInterval      time.Duration
	ReapPageSize      int
	ReapMaxPages      int
	DependencyTimeout time.Duration
	ProbeConcurrency  int
	SnapshotTTL       time.Duration
}

// Store drivers.
const (
	StoreDriverPostgres     = "postgres"
	StoreDriverGormPostgres = "gorm-postgres"
	StoreDriverSQLite       = "sqlite"
	StoreDriverMemory       = "memory"
)

// StoreConfig selects the session store, presence and snapshot backends.
type StoreConfig struct {
	Driver         string
	SQLiteDSN      string
	PresenceSource string
	SnapshotStore  string
}

// MessagingConfig holds the history recorder broker settings.
type MessagingConfig struct {
	AMQPURL            string
	Exchange           string
	Producer           string
	ConnTimeoutSeconds int
	// OutboxInterval is how often unsent completion events are relayed.
	OutboxInterval time.Duration
	OutboxBatch    int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	engine, err := loadEngine()
	if err != nil {
		return nil, err
	}
	outboxInterval, err := getEnvAsDuration("AMQP_OUTBOX_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	if outboxInterval <= 0 {
		return nil, fmt.Errorf("invalid AMQP_OUTBOX_INTERVAL %s", outboxInterval)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "queue-router"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             os.Getenv("AUTH_JWT_SECRET"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60*24*30),
		},
		Engine: engine,
		Store: StoreConfig{
			Driver:         strings.ToLower(getEnv("SESSION_STORE_DRIVER", StoreDriverPostgres)),
			SQLiteDSN:      getEnv("SQLITE_DSN", "queue-router.db"),
			PresenceSource: strings.ToLower(getEnv("PRESENCE_SOURCE", "redis")),
			SnapshotStore:  strings.ToLower(getEnv("SNAPSHOT_STORE", "redis")),
		},
		Messaging: MessagingConfig{
			AMQPURL:            os.Getenv("AMQP_URL"),
			Exchange:           getEnv("AMQP_EXCHANGE", "queue-router.events"),
			Producer:           getEnv("AMQP_PRODUCER", "queue-router"),
			ConnTimeoutSeconds: getEnvAsInt("AMQP_CONN_TIMEOUT_SECONDS", 10),
			OutboxInterval:     outboxInterval,
			OutboxBatch:        getEnvAsInt("AMQP_OUTBOX_BATCH", 100),
		},
	}

	switch cfg.Store.Driver {
	case StoreDriverPostgres, StoreDriverGormPostgres, StoreDriverSQLite, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("invalid SESSION_STORE_DRIVER %q", cfg.Store.Driver)
	}

	return cfg, nil
}

func loadEngine() (EngineConfig, error) {
	var (
		engine EngineConfig
		err    error
	)
	if engine.InactivityTimeout, err = getEnvAsDuration("ENGINE_INACTIVITY_TIMEOUT", 30*time.Minute); err != nil {
		return engine, err
	}
	if engine.ReapInterval, err = getEnvAsDuration("ENGINE_REAP_INTERVAL", 5*time.Minute); err != nil {
		return engine, err
	}
	if engine.DependencyTimeout, err = getEnvAsDuration("ENGINE_DEPENDENCY_TIMEOUT", 750*time.Millisecond); err != nil {
		return engine, err
	}
	if engine.SnapshotTTL, err = getEnvAsDuration("ENGINE_SNAPSHOT_TTL", time.Hour); err != nil {
		return engine, err
	}
	engine.ReapPageSize = getEnvAsInt("ENGINE_REAP_PAGE_SIZE", 100)
	engine.ReapMaxPages = getEnvAsInt("ENGINE_REAP_MAX_PAGES", 50)
	engine.ProbeConcurrency = getEnvAsInt("ENGINE_PROBE_CONCURRENCY", 8)
	return engine.WithDefaults(), nil
}

// WithDefaults fills zero values with the service defaults.
func (e EngineConfig) WithDefaults() EngineConfig {
	if e.InactivityTimeout <= 0 {
		e.InactivityTimeout = 30 * time.Minute
	}
	if e.ReapInterval <= 0 {
		e.ReapInterval = 5 * time.Minute
	}
	if e.ReapPageSize <= 0 {
		e.ReapPageSize = 100
	}
	if e.ReapMaxPages <= 0 {
		e.ReapMaxPages = 50
	}
	if e.DependencyTimeout <= 0 {
		e.DependencyTimeout = 750 * time.Millisecond
	}
	if e.ProbeConcurrency <= 0 {
		e.ProbeConcurrency = 8
	}
	if e.SnapshotTTL <= 0 {
		e.SnapshotTTL = time.Hour
	}
	return e
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
