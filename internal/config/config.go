package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// DevJWTSecret is the signing secret used when AUTH_JWT_SECRET is unset. It is only
// accepted with APP_ENV=development.
const DevJWTSecret = "dev-secret"

// Event transports.
const (
	EventsTransportMemory = "memory"
	EventsTransportRedis  = "redis"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Events   EventsConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Google   GoogleConfig
	Mail     MailConfig
	AI       AIConfig
	Pipeline PipelineConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	AllowedOrigins        []string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
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

// SQLiteConfig holds the local database path.
type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig controls how events are delivered to handlers.
type EventsConfig struct {
	Transport           string
	QueuePrefix         string
	Workers             int
	BufferSize          int
	OutboxPollMillis    int
	OutboxBatchSize     int
	DeliveryTimeoutSecs int
	// VisibilitySecs is how long a Redis delivery may stay unacknowledged before it is
	// handed out again.
	VisibilitySecs int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret         string
	SessionTTLMinutes int
	CookieName        string
	CookieSecure      bool
	BcryptCost        int
}

// GoogleConfig holds OAuth client credentials.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// MailConfig holds SMTP transport settings.
type MailConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	From           string
	FromName       string
	TimeoutSeconds int
	DashboardURL   string
	SupportAddress string
}

// AIConfig configures the triage model endpoint.
type AIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// PipelineConfig tunes ticket processing.
type PipelineConfig struct {
	MaxAttempts           int
	BackoffMillis         int
	FallbackAssigneeEmail string
	MemoTTLMinutes        int
	MemoEnabled           bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-triage"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "7000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			AllowedOrigins:        getEnvAsList("HTTP_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "data/tickets.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Events: EventsConfig{
			Transport:           strings.ToLower(getEnv("EVENTS_TRANSPORT", EventsTransportMemory)),
			QueuePrefix:         getEnv("EVENTS_QUEUE_PREFIX", "ticket-triage:events"),
			Workers:             getEnvAsInt("EVENTS_WORKERS", 4),
			BufferSize:          getEnvAsInt("EVENTS_BUFFER_SIZE", 256),
			OutboxPollMillis:    getEnvAsInt("EVENTS_OUTBOX_POLL_MILLIS", 500),
			OutboxBatchSize:     getEnvAsInt("EVENTS_OUTBOX_BATCH_SIZE", 50),
			DeliveryTimeoutSecs: getEnvAsInt("EVENTS_DELIVERY_TIMEOUT_SECONDS", 60),
			VisibilitySecs:      getEnvAsInt("EVENTS_VISIBILITY_TIMEOUT_SECONDS", 300),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("AUTH_JWT_SECRET", DevJWTSecret),
			SessionTTLMinutes: getEnvAsInt("AUTH_SESSION_TTL_MINUTES", 7*24*60),
			CookieName:        getEnv("AUTH_COOKIE_NAME", "userToken"),
			CookieSecure:      getEnvAsBool("AUTH_COOKIE_SECURE", false),
			BcryptCost:        getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "postmessage"),
		},
		Mail: MailConfig{
			Host:           os.Getenv("MAIL_HOST"),
			Port:           getEnvAsInt("MAIL_PORT", 587),
			Username:       os.Getenv("MAIL_USER"),
			Password:       os.Getenv("MAIL_PASS"),
			From:           getEnv("MAIL_FROM", "noreply@example.com"),
			FromName:       getEnv("MAIL_FROM_NAME", "AI Ticket Raiser"),
			TimeoutSeconds: getEnvAsInt("MAIL_TIMEOUT_SECONDS", 15),
			DashboardURL:   getEnv("MAIL_DASHBOARD_URL", "http://localhost:5173/dashboard"),
			SupportAddress: getEnv("MAIL_SUPPORT_ADDRESS", "support@example.com"),
		},
		AI: AIConfig{
			APIKey:         os.Getenv("AI_API_KEY"),
			BaseURL:        getEnv("AI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
			Model:          getEnv("AI_MODEL", "gemini-1.5-flash-8b"),
			TimeoutSeconds: getEnvAsInt("AI_TIMEOUT_SECONDS", 20),
		},
		Pipeline: PipelineConfig{
			MaxAttempts:           getEnvAsInt("PIPELINE_MAX_ATTEMPTS", 4),
			BackoffMillis:         getEnvAsInt("PIPELINE_BACKOFF_MILLIS", 2000),
			FallbackAssigneeEmail: strings.TrimSpace(os.Getenv("PIPELINE_FALLBACK_ASSIGNEE_EMAIL")),
			MemoTTLMinutes:        getEnvAsInt("PIPELINE_MEMO_TTL_MINUTES", 24*60),
			MemoEnabled:           getEnvAsBool("PIPELINE_MEMO_ENABLED", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverSQLite:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Events.Transport {
	case EventsTransportMemory, EventsTransportRedis:
	default:
		return fmt.Errorf("invalid EVENTS_TRANSPORT %q", c.Events.Transport)
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("PIPELINE_MAX_ATTEMPTS must be positive")
	}
	if c.Events.VisibilitySecs <= c.Events.DeliveryTimeoutSecs {
		return fmt.Errorf("EVENTS_VISIBILITY_TIMEOUT_SECONDS must exceed EVENTS_DELIVERY_TIMEOUT_SECONDS")
	}
	if c.App.Env != "development" {
		secret := strings.TrimSpace(c.Auth.JWTSecret)
		if secret == "" || secret == DevJWTSecret {
			return fmt.Errorf("AUTH_JWT_SECRET must be set to a non-default value when APP_ENV=%s", c.App.Env)
		}
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	return seconds(a.RequestTimeoutSeconds)
}

// SessionTTL returns the lifetime of issued session tokens.
func (a AuthConfig) SessionTTL() time.Duration {
	if a.SessionTTLMinutes <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(a.SessionTTLMinutes) * time.Minute
}

// Timeout bounds a single SMTP send.
func (m MailConfig) Timeout() time.Duration {
	return seconds(m.TimeoutSeconds)
}

// Timeout bounds a single triage call.
func (a AIConfig) Timeout() time.Duration {
	return seconds(a.TimeoutSeconds)
}

// Backoff is the base delay between redeliveries.
func (p PipelineConfig) Backoff() time.Duration {
	return time.Duration(p.BackoffMillis) * time.Millisecond
}

// MemoTTL is how long succeeded step results are kept.
func (p PipelineConfig) MemoTTL() time.Duration {
	return time.Duration(p.MemoTTLMinutes) * time.Minute
}

// OutboxPollInterval is the relay polling period.
func (e EventsConfig) OutboxPollInterval() time.Duration {
	return time.Duration(e.OutboxPollMillis) * time.Millisecond
}

// VisibilityTimeout is the Redis delivery lease.
func (e EventsConfig) VisibilityTimeout() time.Duration {
	return seconds(e.VisibilitySecs)
}

// DeliveryTimeout bounds a single handler invocation.
func (e EventsConfig) DeliveryTimeout() time.Duration {
	return seconds(e.DeliveryTimeoutSecs)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
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

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
