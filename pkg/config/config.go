package config

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Staff request conflict policies.
const (
	ConflictPolicyReject = "reject"
	ConflictPolicyAllow  = "allow"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Scheduling SchedulingConfig
	Cache      CacheConfig
	Cleanup    CleanupConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int

	TxIsolation  sql.IsolationLevel
	TxMaxRetries int
	TxRetryDelay time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	Issuer                 string
	VerificationExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulingConfig tunes the booking and staffing workflows.
type SchedulingConfig struct {
	RequestConflictPolicy string
	DefaultAssignmentRole string
}

// CacheConfig controls read-through caching of event listings.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// CleanupConfig governs the sweep of stale unverified registrations.
type CleanupConfig struct {
	Enabled       bool
	Schedule      string
	UnverifiedTTL time.Duration
	Workers       int
	MaxRetries    int
	BatchSize     int
	RetryDelay    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		TxIsolation:  parseIsolation(v.GetString("DB_TX_ISOLATION")),
		TxMaxRetries: v.GetInt("DB_TX_MAX_RETRIES"),
		TxRetryDelay: parseDuration(v.GetString("DB_TX_RETRY_DELAY"), 20*time.Millisecond),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:                 v.GetString("JWT_SECRET"),
		Expiration:             parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:                 v.GetString("JWT_ISSUER"),
		VerificationExpiration: parseDuration(v.GetString("JWT_VERIFICATION_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduling = SchedulingConfig{
		RequestConflictPolicy: parsePolicy(v.GetString("SCHEDULING_REQUEST_CONFLICT_POLICY")),
		DefaultAssignmentRole: strings.TrimSpace(v.GetString("SCHEDULING_DEFAULT_ASSIGNMENT_ROLE")),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_EVENT_CACHE"),
		TTL:     parseDuration(v.GetString("EVENT_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Cleanup = CleanupConfig{
		Enabled:       v.GetBool("ENABLE_REGISTRATION_CLEANUP"),
		Schedule:      strings.TrimSpace(v.GetString("CLEANUP_SCHEDULE")),
		UnverifiedTTL: parseDuration(v.GetString("CLEANUP_UNVERIFIED_TTL"), 24*time.Hour),
		Workers:       v.GetInt("CLEANUP_WORKERS"),
		MaxRetries:    v.GetInt("CLEANUP_MAX_RETRIES"),
		BatchSize:     v.GetInt("CLEANUP_BATCH_SIZE"),
		RetryDelay:    parseDuration(v.GetString("CLEANUP_RETRY_DELAY"), 5*time.Second),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "college_events")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_TX_ISOLATION", "serializable")
	v.SetDefault("DB_TX_MAX_RETRIES", 3)
	v.SetDefault("DB_TX_RETRY_DELAY", "20ms")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "college-events-api")
	v.SetDefault("JWT_VERIFICATION_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULING_REQUEST_CONFLICT_POLICY", ConflictPolicyReject)
	v.SetDefault("SCHEDULING_DEFAULT_ASSIGNMENT_ROLE", "Staff in Charge")

	v.SetDefault("ENABLE_EVENT_CACHE", true)
	v.SetDefault("EVENT_CACHE_TTL", "5m")

	v.SetDefault("ENABLE_REGISTRATION_CLEANUP", false)
	v.SetDefault("CLEANUP_SCHEDULE", "@every 1h")
	v.SetDefault("CLEANUP_UNVERIFIED_TTL", "24h")
	v.SetDefault("CLEANUP_WORKERS", 1)
	v.SetDefault("CLEANUP_MAX_RETRIES", 3)
	v.SetDefault("CLEANUP_BATCH_SIZE", 100)
	v.SetDefault("CLEANUP_RETRY_DELAY", "5s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseIsolation(raw string) sql.IsolationLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "read_committed", "read committed":
		return sql.LevelReadCommitted
	case "repeatable_read", "repeatable read":
		return sql.LevelRepeatableRead
	default:
		return sql.LevelSerializable
	}
}

func parsePolicy(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), ConflictPolicyAllow) {
		return ConflictPolicyAllow
	}
	return ConflictPolicyReject
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
