package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendDynamo = "dynamo"
)

// Config is the process configuration, read from the environment.
type Config struct {
	HTTPAddr    string
	JWTSecret   string
	DatabaseDSN string
	CORSOrigins []string

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DynamoTable   string
	AWSRegion     string
	NatsURL       string

	TelegramToken string

	MatchWindow  int
	WaitingTTL   time.Duration
	MatchedTTL   time.Duration
	SweepSpec    string
	DotsGridSize int

	LogLevel   string
	LocalesDir string
}

// Load reads .env (when present) and then the environment. The returned
// bool reports whether a .env file was loaded.
func Load() (*Config, bool, error) {
	loaded := godotenv.Load() == nil

	cfg := &Config{
		HTTPAddr:      env("HTTP_ADDR", ":8080"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		StoreBackend:  env("STORE_BACKEND", BackendMemory),
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DynamoTable:   env("DYNAMO_TABLE", "campusconnect-docs"),
		AWSRegion:     env("AWS_REGION", "eu-central-1"),
		NatsURL:       os.Getenv("NATS_URL"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		SweepSpec:     env("SWEEP_SPEC", "@every 1m"),
		LogLevel:      env("LOG_LEVEL", "info"),
		LocalesDir:    env("LOCALES_DIR", "locales"),
		CORSOrigins:   envList("CORS_ORIGINS", "*"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, loaded, err
	}
	if cfg.MatchWindow, err = envInt("MATCH_WINDOW", 10); err != nil {
		return nil, loaded, err
	}
	if cfg.DotsGridSize, err = envInt("DOTS_GRID_SIZE", 3); err != nil {
		return nil, loaded, err
	}
	if cfg.WaitingTTL, err = envDuration("WAITING_TTL", 10*time.Minute); err != nil {
		return nil, loaded, err
	}
	if cfg.MatchedTTL, err = envDuration("MATCHED_TTL", 2*time.Minute); err != nil {
		return nil, loaded, err
	}

	return cfg, loaded, cfg.Validate()
}

// Validate checks combinations that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendDynamo:
	default:
		return errors.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.MatchWindow < 1 {
		return errors.Errorf("config: MATCH_WINDOW must be positive, got %d", c.MatchWindow)
	}
	return nil
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key, def string) []string {
	var out []string
	for _, item := range strings.Split(env(key, def), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	return n, errors.Wrapf(err, "config: %s", key)
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	return d, errors.Wrapf(err, "config: %s", key)
}
