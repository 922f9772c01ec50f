package config

import (
	"errors"
	"os"
	"strings"
	"time"

	platformconfig "github.com/example/course-platform/internal/platform/config"
)

type ProgressConfig struct {
	JWTSecret   []byte
	GRPCAddr    string
	DatabaseURL string
	RedisDSN    string
	NATSURL     string

	AsyncWrites       bool
	AutoMigrate       bool
	CompleteThreshold time.Duration
	MaxDelta          time.Duration
	IdempotencyTTL    time.Duration

	WorkerBatchSize     int
	WorkerBatchInterval time.Duration

	// RateLimit is the sustained request rate per learner; RateBurst the bucket size.
	RateLimit float64
	RateBurst int
}

func LoadProgress() (ProgressConfig, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return ProgressConfig{}, errors.New("JWT_SECRET is required")
	}
	cfg := ProgressConfig{
		JWTSecret:   []byte(secret),
		GRPCAddr:    strings.TrimSpace(os.Getenv("GRPC_ADDR")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisDSN:    strings.TrimSpace(os.Getenv("REDIS_DSN")),
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),

		AsyncWrites:       platformconfig.Bool("PROGRESS_ASYNC_WRITES", true),
		AutoMigrate:       platformconfig.Bool("PROGRESS_AUTO_MIGRATE", false),
		CompleteThreshold: platformconfig.Duration("PROGRESS_COMPLETE_THRESHOLD", 10*time.Second),
		MaxDelta:          platformconfig.Duration("PROGRESS_MAX_DELTA", time.Hour),
		IdempotencyTTL:    platformconfig.Duration("IDEMPOTENCY_TTL", 24*time.Hour),

		WorkerBatchSize:     platformconfig.Int("WORKER_BATCH_SIZE", 100),
		WorkerBatchInterval: platformconfig.Duration("WORKER_BATCH_INTERVAL", 2*time.Second),

		RateLimit: platformconfig.Float("PROGRESS_RATE_LIMIT", 5),
		RateBurst: platformconfig.Int("PROGRESS_RATE_BURST", 20),
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = ":9090"
	}
	return cfg, nil
}

// CompleteThresholdSeconds is the server-side completion threshold in whole seconds.
func (c ProgressConfig) CompleteThresholdSeconds() int {
	return int(c.CompleteThreshold / time.Second)
}

func (c ProgressConfig) MaxDeltaSeconds() int {
	return int(c.MaxDelta / time.Second)
}
