package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Lock      LockConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Gateway   GatewayConfig
	Reminder  ReminderConfig
	RateLimit RateLimitConfig
	Catalog   *Catalog
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	HTTPEnabled           bool
}

// StoreConfig selects the record store driver.
type StoreConfig struct {
	Driver         string
	TicketsPath    string
	IssuedIDsPath  string
	RecoverCorrupt bool
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LockConfig selects how per-ticket serialization is enforced.
type LockConfig struct {
	Driver    string
	TTL       time.Duration
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token parameters for the HTTP ingress.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	Issuer                string
}

// GatewayConfig configures the messaging gateway driver.
type GatewayConfig struct {
	Driver  string
	Timeout time.Duration
	// InteractionTimeout bounds one acknowledged interaction up to its store
	// write. It covers several gateway calls, each bounded by Timeout.
	InteractionTimeout time.Duration
	SlackBotToken      string
	SlackAppToken      string
	SlackDebug         bool
	StaffUserIDs       []string
	AdminUserIDs       []string
}

// ReminderConfig configures the staleness sweep.
type ReminderConfig struct {
	Enabled    bool
	Interval   time.Duration
	Thresholds []time.Duration
}

// RateLimitConfig bounds inbound interaction traffic per actor.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

const (
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"

	LockDriverMemory = "memory"
	LockDriverRedis  = "redis"

	GatewayDriverSlack = "slack"
	GatewayDriverLog   = "log"

	// interactionCallBudget is how many sequential gateway calls the default
	// interaction timeout allows for.
	interactionCallBudget = 8
)

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	thresholds, err := ParseThresholds(getEnv("REMINDER_THRESHOLDS", "5m,30m,1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_THRESHOLDS: %w", err)
	}

	gatewayTimeout := getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second)

	catalog, err := LoadCatalog(os.Getenv("CATALOG_PATH"))
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticketdesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			HTTPEnabled:           getEnvAsBool("HTTP_ENABLED", true),
		},
		Store: StoreConfig{
			Driver:         strings.ToLower(getEnv("STORE_DRIVER", StoreDriverFile)),
			TicketsPath:    getEnv("STORE_TICKETS_PATH", "data/tickets.json"),
			IssuedIDsPath:  getEnv("STORE_ISSUED_IDS_PATH", "data/issued_ids.json"),
			RecoverCorrupt: getEnvAsBool("STORE_RECOVER_CORRUPT", false),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Lock: LockConfig{
			Driver:    strings.ToLower(getEnv("LOCK_DRIVER", LockDriverMemory)),
			TTL:       getEnvAsDuration("LOCK_TTL", 30*time.Second),
			KeyPrefix: getEnv("LOCK_KEY_PREFIX", "ticketdesk:lock:"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			Issuer:                getEnv("AUTH_ISSUER", "ticketdesk"),
		},
		Gateway: GatewayConfig{
			Driver:             strings.ToLower(getEnv("GATEWAY_DRIVER", GatewayDriverLog)),
			Timeout:            gatewayTimeout,
			InteractionTimeout: getEnvAsDuration("INTERACTION_TIMEOUT", interactionCallBudget*gatewayTimeout),
			SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
			SlackAppToken:      os.Getenv("SLACK_APP_TOKEN"),
			SlackDebug:         getEnvAsBool("SLACK_DEBUG", false),
			StaffUserIDs:       getEnvAsList("GATEWAY_STAFF_USER_IDS"),
			AdminUserIDs:       getEnvAsList("GATEWAY_ADMIN_USER_IDS"),
		},
		Reminder: ReminderConfig{
			Enabled:    getEnvAsBool("REMINDER_ENABLED", true),
			Interval:   getEnvAsDuration("REMINDER_INTERVAL", time.Minute),
			Thresholds: thresholds,
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvAsFloat("RATE_LIMIT_RPS", 2),
			Burst: getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Catalog: catalog,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverFile:
		if c.Store.TicketsPath == "" || c.Store.IssuedIDsPath == "" {
			return fmt.Errorf("file store requires STORE_TICKETS_PATH and STORE_ISSUED_IDS_PATH")
		}
	case StoreDriverPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres store requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Lock.Driver {
	case LockDriverMemory:
	case LockDriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis lock driver requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown LOCK_DRIVER %q", c.Lock.Driver)
	}
	switch c.Gateway.Driver {
	case GatewayDriverLog:
	case GatewayDriverSlack:
		if c.Gateway.SlackBotToken == "" {
			return fmt.Errorf("slack gateway requires SLACK_BOT_TOKEN")
		}
	default:
		return fmt.Errorf("unknown GATEWAY_DRIVER %q", c.Gateway.Driver)
	}
	if c.Gateway.InteractionTimeout > 0 && c.Gateway.InteractionTimeout < c.Gateway.Timeout {
		return fmt.Errorf("INTERACTION_TIMEOUT must not be shorter than GATEWAY_TIMEOUT")
	}
	if c.Reminder.Interval <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL must be positive")
	}
	return nil
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

// ParseThresholds parses a comma separated, strictly ascending list of durations.
func ParseThresholds(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("threshold %s must be positive", part)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one threshold required")
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i] < out[j] }) {
		return nil, fmt.Errorf("thresholds must be ascending")
	}
	for i := 1; i < len(out); i++ {
		if out[i] == out[i-1] {
			return nil, fmt.Errorf("duplicate threshold %s", out[i])
		}
	}
	return out, nil
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

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
