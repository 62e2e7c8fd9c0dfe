package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration. Every field maps to a UYIM_* environment
// variable; a .env file in the working directory is loaded first when present.
type Config struct {
	HTTPAddr string // listen address for the HTTP API
	GRPCAddr string // listen address for the gRPC health endpoint ("" disables)

	PGDSN string // Postgres DSN; empty falls back to the in-memory store

	AuthSecret string        // HS256 signing secret
	TokenTTL   time.Duration // access token lifetime

	AMQPURL   string // RabbitMQ URL for notification publishing ("" disables)
	AMQPQueue string

	RateBurst     int // token bucket burst per client IP
	RatePerSecond int
}

// Load reads configuration from the environment. Only the auth secret is
// required; everything else has a workable default.
func Load() (Config, error) {
	// Optional .env for local development; ignore absence.
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:      getenv("UYIM_HTTP_ADDR", ":8080"),
		GRPCAddr:      os.Getenv("UYIM_GRPC_ADDR"),
		PGDSN:         os.Getenv("UYIM_PG_DSN"),
		AuthSecret:    os.Getenv("UYIM_AUTH_SECRET"),
		AMQPURL:       os.Getenv("UYIM_AMQP_URL"),
		AMQPQueue:     getenv("UYIM_AMQP_QUEUE", "occupancy.notifications"),
		TokenTTL:      15 * time.Minute,
		RateBurst:     20,
		RatePerSecond: 10,
	}

	if raw := os.Getenv("UYIM_TOKEN_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid UYIM_TOKEN_TTL %q: %w", raw, err)
		}
		cfg.TokenTTL = d
	}
	var err error
	if cfg.RateBurst, err = getint("UYIM_RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSecond, err = getint("UYIM_RATE_PER_SECOND", cfg.RatePerSecond); err != nil {
		return Config{}, err
	}

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("config: UYIM_AUTH_SECRET is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
