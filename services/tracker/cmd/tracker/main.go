package main

import (
	"context"
	"errors"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/example/course-platform/internal/platform/analytics"
	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/platform/config"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/platform/logging"
	"github.com/example/course-platform/internal/platform/natsconn"
	"github.com/example/course-platform/internal/platform/run"
	"github.com/example/course-platform/internal/progressclient"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
	trackerconfig "github.com/example/course-platform/services/tracker/internal/config"
	"github.com/example/course-platform/services/tracker/internal/gateway"
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

	tcfg, err := trackerconfig.LoadTracker()
	if err != nil {
		log.Error("load tracker config", zap.Error(err))
		run.Exit(1)
	}

	var conn *grpc.ClientConn
	if tcfg.ProgressGRPCAddr != "" {
		conn, err = progressclient.DialGRPC(tcfg.ProgressGRPCAddr)
		if err != nil {
			log.Error("dial progress", zap.Error(err))
			run.Exit(1)
		}
		defer conn.Close()
	}

	var (
		nc *nats.Conn
		js nats.JetStreamContext
	)
	if tcfg.NATSURL != "" {
		nc, err = natsconn.Connect(natsconn.Options{URL: tcfg.NATSURL, Name: cfg.ServiceName})
		if err != nil {
			log.Error("nats connect", zap.Error(err))
			run.Exit(1)
		}
		defer nc.Close()
		js, err = nc.JetStream()
		if err != nil {
			log.Error("jetstream", zap.Error(err))
			run.Exit(1)
		}
		if err := natsconn.EnsureStream(js, analytics.StreamConfig()); err != nil {
			log.Error("ensure analytics stream", zap.Error(err))
			run.Exit(1)
		}
	}

	gw := &gateway.Handler{
		Engagement:     tcfg.Engagement(),
		FlushTimeout:   tcfg.FlushTimeout,
		OriginPatterns: tcfg.OriginPatterns,
		Analytics:      analytics.New(js, log),
		Log:            log,
	}
	var breaker *gobreaker.CircuitBreaker
	if tcfg.ProgressHTTPURL != "" {
		breaker = progressclient.NewBreaker("progress", uint32(tcfg.BreakerFailures), tcfg.BreakerOpenTimeout, log)
		gw.Clients = gateway.HTTPClients(progressclient.NewHTTP(tcfg.ProgressHTTPURL,
			progressclient.WithCircuitBreaker(breaker),
			progressclient.WithLogger(log),
		))
		log.Info("progress over http", zap.String("url", tcfg.ProgressHTTPURL))
	} else {
		gw.Progress = progressv1.NewProgressServiceClient(conn)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			if breaker != nil && breaker.State() == gobreaker.StateOpen {
				return errors.New("progress circuit open")
			}
			if conn == nil {
				return nil
			}
			if s := conn.GetState(); s == connectivity.TransientFailure || s == connectivity.Shutdown {
				return errors.New("progress service unavailable")
			}
			return nil
		},
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUserOrQuery(auth.JWTVerifier{Secret: tcfg.JWTSecret}))
		r.Use(httpserver.NewRateLimiter(tcfg.ConnectRate, tcfg.ConnectBurst, auth.RateKey).Middleware)
		gw.Routes(r)
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(context.Context) error {
		if conn != nil {
			conn.Connect()
		}
		return srv.Start()
	})

	runner.Graceful(
		srv.Shutdown,
		gw.Shutdown,
		func(context.Context) error {
			if nc == nil {
				return nil
			}
			return nc.Drain()
		},
	)

	log.Info("exit", zap.Int("code", code), zap.Int64("open_views", gw.Active()))
	run.Exit(code)
}
