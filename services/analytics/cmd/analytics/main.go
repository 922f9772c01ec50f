package main

import (
	"context"
	"errors"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/course-platform/internal/platform/config"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/platform/logging"
	"github.com/example/course-platform/internal/platform/natsconn"
	"github.com/example/course-platform/internal/platform/run"
	analyticsconfig "github.com/example/course-platform/services/analytics/internal/config"
	"github.com/example/course-platform/services/analytics/internal/consumer"
	"github.com/example/course-platform/services/analytics/internal/handler"
	"github.com/example/course-platform/services/analytics/internal/posthog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	acfg, err := analyticsconfig.LoadAnalytics()
	if err != nil {
		log.Error("load analytics config", zap.Error(err))
		run.Exit(1)
	}

	ph, err := posthog.New(acfg.PostHogAPIKey, acfg.PostHogHost, acfg.FlushInterval, acfg.PostHogBatchSize, log)
	if err != nil {
		log.Error("posthog init", zap.Error(err))
		run.Exit(1)
	}

	nc, err := natsconn.Connect(natsconn.Options{URL: acfg.NATSURL, Name: cfg.ServiceName})
	if err != nil {
		log.Error("nats connect", zap.Error(err))
		run.Exit(1)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		log.Error("jetstream", zap.Error(err))
		run.Exit(1)
	}

	c, err := consumer.New(js, handler.New(ph, log), acfg.FetchBatchSize, acfg.FetchWait, log)
	if err != nil {
		log.Error("consumer init", zap.Error(err))
		run.Exit(1)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			if !nc.IsConnected() {
				return errors.New("nats unavailable")
			}
			return nil
		},
	})
	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Logger: log, Router: r})

	runner := run.New(log)
	runner.ShutdownTimeout = 15 * time.Second
	code := runner.WithSignals(func(ctx context.Context) error {
		errCh := make(chan error, 2)
		go func() {
			log.Info("analytics sink started")
			errCh <- c.Run(ctx)
		}()
		go func() { errCh <- srv.Start() }()
		return <-errCh
	})

	runner.Graceful(
		srv.Shutdown,
		func(context.Context) error { return ph.Close() },
		func(context.Context) error { return nc.Drain() },
	)

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
