package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Realtime RealtimeConfig
	Voting   VotingConfig
	AWS      AWSConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings. Empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// RealtimeConfig holds websocket gateway settings.
type RealtimeConfig struct {
	RateLimitMessages  int
	RateLimitWindow    time.Duration
	SendBuffer         int
	MaxMessageBytes    int64
	RedisFanout        bool
	MetricsLogInterval time.Duration
}

// Store backends for voting sessions.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// VotingConfig holds voting session engine settings.
type VotingConfig struct {
	StoreBackend       string
	DefaultDurationSec int
	MinDurationSec     int
	MaxDurationSec     int
	SweepInterval      time.Duration
}

// AWSConfig holds AWS credentials and the bucket used for results archives.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ResultsBucket   string // empty disables archiving
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "lightningtalk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Realtime: RealtimeConfig{
			RateLimitMessages:  getEnvInt("RATE_LIMIT_MESSAGES", 10),
			RateLimitWindow:    time.Duration(getEnvInt("RATE_LIMIT_WINDOW_MS", 1000)) * time.Millisecond,
			SendBuffer:         getEnvInt("WS_SEND_BUFFER", 256),
			MaxMessageBytes:    int64(getEnvInt("WS_MAX_MESSAGE_BYTES", 65536)),
			RedisFanout:        getEnvBool("REDIS_FANOUT", true),
			MetricsLogInterval: time.Duration(getEnvInt("WS_METRICS_LOG_SEC", 60)) * time.Second,
		},
		Voting: VotingConfig{
			StoreBackend:       strings.ToLower(getEnv("VOTING_STORE_BACKEND", StoreMemory)),
			DefaultDurationSec: getEnvInt("VOTING_DEFAULT_DURATION_SEC", 60),
			MinDurationSec:     getEnvInt("VOTING_MIN_DURATION_SEC", 30),
			MaxDurationSec:     getEnvInt("VOTING_MAX_DURATION_SEC", 300),
			SweepInterval:      time.Duration(getEnvInt("VOTING_SWEEP_INTERVAL_SEC", 5)) * time.Second,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ResultsBucket:   getEnv("AWS_S3_RESULTS_BUCKET", ""),
		},
		Worker: WorkerConfig{
			MaxRetries:   getEnvInt("WORKER_MAX_RETRIES", 3),
			RetryBackoff: time.Duration(getEnvInt("WORKER_RETRY_BACKOFF_SEC", 10)) * time.Second,
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Voting.StoreBackend {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("unknown VOTING_STORE_BACKEND %q", c.Voting.StoreBackend)
	}
	if c.Voting.MinDurationSec <= 0 || c.Voting.MaxDurationSec < c.Voting.MinDurationSec {
		return fmt.Errorf("invalid voting duration bounds %d..%d", c.Voting.MinDurationSec, c.Voting.MaxDurationSec)
	}
	if c.Realtime.RateLimitMessages <= 0 || c.Realtime.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// SplitTrim splits s on sep and drops empty, whitespace-only parts.
func SplitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
