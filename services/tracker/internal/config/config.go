package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/example/course-platform/internal/engagement"
	platformconfig "github.com/example/course-platform/internal/platform/config"
)

type TrackerConfig struct {
	JWTSecret        []byte
	ProgressGRPCAddr string
	// ProgressHTTPURL selects the REST client, behind a circuit breaker,
	// instead of gRPC.
	ProgressHTTPURL    string
	BreakerFailures    int
	BreakerOpenTimeout time.Duration

	NATSURL        string
	OriginPatterns []string

	SyncInterval    time.Duration
	MinCompleteTime time.Duration
	FlushTimeout    time.Duration

	// Upgrade rate per learner.
	ConnectRate  float64
	ConnectBurst int
}

func LoadTracker() (TrackerConfig, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return TrackerConfig{}, errors.New("JWT_SECRET is required")
	}
	addr := strings.TrimSpace(os.Getenv("PROGRESS_GRPC_ADDR"))
	httpURL := strings.TrimSpace(os.Getenv("PROGRESS_HTTP_URL"))
	if addr == "" && httpURL == "" {
		return TrackerConfig{}, errors.New("PROGRESS_GRPC_ADDR or PROGRESS_HTTP_URL is required")
	}
	return TrackerConfig{
		JWTSecret:          []byte(secret),
		ProgressGRPCAddr:   addr,
		ProgressHTTPURL:    httpURL,
		BreakerFailures:    platformconfig.Int("PROGRESS_BREAKER_FAILURES", 5),
		BreakerOpenTimeout: platformconfig.Duration("PROGRESS_BREAKER_OPEN_TIMEOUT", 30*time.Second),

		NATSURL:        strings.TrimSpace(os.Getenv("NATS_URL")),
		OriginPatterns: splitList(os.Getenv("TRACKER_ORIGIN_PATTERNS")),

		SyncInterval:    platformconfig.Duration("ENGAGEMENT_SYNC_INTERVAL", engagement.DefaultSyncInterval),
		MinCompleteTime: platformconfig.Duration("ENGAGEMENT_MIN_COMPLETE_TIME", engagement.DefaultMinCompleteTime),
		FlushTimeout:    platformconfig.Duration("TRACKER_FLUSH_TIMEOUT", 5*time.Second),

		ConnectRate:  platformconfig.Float("TRACKER_CONNECT_RATE", 1),
		ConnectBurst: platformconfig.Int("TRACKER_CONNECT_BURST", 10),
	}, nil
}

// Engagement returns the session config with the configured cadence.
func (c TrackerConfig) Engagement() engagement.Config {
	cfg := engagement.DefaultConfig()
	cfg.SyncInterval = c.SyncInterval
	cfg.MinCompleteTime = c.MinCompleteTime
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
