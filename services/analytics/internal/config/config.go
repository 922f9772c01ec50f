package config

import (
	"errors"
	"os"
	"strings"
	"time"

	platformconfig "github.com/example/course-platform/internal/platform/config"
)

// AnalyticsConfig configures the engagement analytics sink.
type AnalyticsConfig struct {
	NATSURL       string
	PostHogAPIKey string
	PostHogHost   string

	FlushInterval    time.Duration
	PostHogBatchSize int
	FetchBatchSize   int
	FetchWait        time.Duration
}

func LoadAnalytics() (AnalyticsConfig, error) {
	key := strings.TrimSpace(os.Getenv("POSTHOG_API_KEY"))
	if key == "" {
		return AnalyticsConfig{}, errors.New("POSTHOG_API_KEY is required")
	}
	cfg := AnalyticsConfig{
		NATSURL:       strings.TrimSpace(os.Getenv("NATS_URL")),
		PostHogAPIKey: key,
		PostHogHost:   strings.TrimSpace(os.Getenv("POSTHOG_HOST")),

		FlushInterval:    platformconfig.Duration("POSTHOG_FLUSH_INTERVAL", 5*time.Second),
		PostHogBatchSize: platformconfig.Int("POSTHOG_BATCH_SIZE", 100),
		FetchBatchSize:   platformconfig.Int("WORKER_BATCH_SIZE", 200),
		FetchWait:        platformconfig.Duration("WORKER_BATCH_INTERVAL", 2*time.Second),
	}
	if cfg.NATSURL == "" {
		cfg.NATSURL = "nats://nats:4222"
	}
	if cfg.PostHogHost == "" {
		cfg.PostHogHost = "https://app.posthog.com"
	}
	return cfg, nil
}
