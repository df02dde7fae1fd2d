package config

import (
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	HTTPAddr     string

	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	// RefreshKeepCount bounds live refresh records per user.
	RefreshKeepCount int

	SweepInterval time.Duration
	StatsInterval time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		KafkaBrokers:     []string{os.Getenv("KAFKA_BROKER")},
		HTTPAddr:         os.Getenv("HTTP_ADDR"),
		JWTAccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		AccessTokenTTL:   envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:  envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RefreshKeepCount: 5,
		SweepInterval:    envDuration("SWEEP_INTERVAL", 24*time.Hour),
		StatsInterval:    envDuration("STATS_INTERVAL", 12*time.Hour),
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=agents sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.JWTAccessSecret == "" {
		cfg.JWTAccessSecret = "access-supersecret"
	}
	if cfg.JWTRefreshSecret == "" {
		cfg.JWTRefreshSecret = "refresh-supersecret"
	}

	slog.Info("config loaded",
		"postgres_dsn", redactDSN(cfg.PostgresDSN),
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"access_ttl", cfg.AccessTokenTTL,
		"refresh_ttl", cfg.RefreshTokenTTL)
	return cfg
}

var dsnPassword = regexp.MustCompile(`password=\S+`)

// redactDSN masks the password so the DSN can be logged.
func redactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, "password=xxxxx")
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration in env, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return d
}
