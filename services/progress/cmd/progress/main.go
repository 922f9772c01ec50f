package main

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/example/course-platform/internal/platform/analytics"
	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/platform/config"
	"github.com/example/course-platform/internal/platform/db"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/platform/logging"
	"github.com/example/course-platform/internal/platform/natsconn"
	"github.com/example/course-platform/internal/platform/run"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
	progressconfig "github.com/example/course-platform/services/progress/internal/config"
	"github.com/example/course-platform/services/progress/internal/grpcapi"
	"github.com/example/course-platform/services/progress/internal/handlers"
	"github.com/example/course-platform/services/progress/internal/idempotency"
	"github.com/example/course-platform/services/progress/internal/publisher"
	"github.com/example/course-platform/services/progress/internal/store"
	"github.com/example/course-platform/services/progress/internal/worker"
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

	pcfg, err := progressconfig.LoadProgress()
	if err != nil {
		log.Error("load progress config", zap.Error(err))
		run.Exit(1)
	}

	ctx := context.Background()

	var (
		pool *pgxpool.Pool
		repo store.Repository
	)
	if pcfg.DatabaseURL != "" {
		pool, err = db.Open(ctx, pcfg.DatabaseURL)
		if err != nil {
			log.Error("db open", zap.Error(err))
			run.Exit(1)
		}
		defer pool.Close()
		pg := store.NewPostgresRepository(pool, pcfg.CompleteThresholdSeconds())
		if pcfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Error("db migrate", zap.Error(err))
				run.Exit(1)
			}
		}
		repo = pg
	} else {
		if cfg.IsProduction() {
			log.Error("DATABASE_URL is required in production")
			run.Exit(1)
		}
		log.Warn("DATABASE_URL not set; using in-memory progress store")
		repo = store.NewMemoryRepository(pcfg.CompleteThresholdSeconds())
	}

	idem, err := idempotency.NewStore(pcfg.RedisDSN, pool, pcfg.IdempotencyTTL, cfg.IsProduction())
	if err != nil {
		log.Error("idempotency store", zap.Error(err))
		run.Exit(1)
	}

	var (
		nc *nats.Conn
		js nats.JetStreamContext
	)
	if pcfg.NATSURL != "" {
		nc, err = natsconn.Connect(natsconn.Options{URL: pcfg.NATSURL, Name: cfg.ServiceName})
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
		if err := publisher.EnsureStreams(js); err != nil {
			log.Error("ensure streams", zap.Error(err))
			run.Exit(1)
		}
	}

	svc := &grpcapi.ProgressService{
		Progress:        repo,
		Idempotency:     idem,
		Analytics:       analytics.New(js, log),
		Log:             log,
		MaxDeltaSeconds: pcfg.MaxDeltaSeconds(),
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.RequestLogger(log)))
	progressv1.RegisterProgressServiceServer(grpcSrv, svc)
	reflection.Register(grpcSrv)

	lis, err := net.Listen("tcp", pcfg.GRPCAddr)
	if err != nil {
		log.Error("listen", zap.Error(err))
		run.Exit(1)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if pool != nil {
				if err := pool.Ping(pctx); err != nil {
					return errors.New("database unavailable")
				}
			}
			if p, ok := idem.(idempotency.Pinger); ok {
				if err := p.Ping(pctx); err != nil {
					return errors.New("idempotency store unavailable")
				}
			}
			if nc != nil && !nc.IsConnected() {
				return errors.New("nats unavailable")
			}
			return nil
		},
	})

	h := &handlers.Progress{
		API:             svc,
		Publisher:       publisher.NewEventPublisher(js, pcfg.AsyncWrites),
		Log:             log,
		MaxDeltaSeconds: int64(pcfg.MaxDeltaSeconds()),
	}
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(auth.JWTVerifier{Secret: pcfg.JWTSecret}))
		r.Use(httpserver.NewRateLimiter(pcfg.RateLimit, pcfg.RateBurst, auth.RateKey).Middleware)
		h.Routes(r)
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if js != nil {
			err := worker.StartDeltaConsumer(ctx, js, repo, log, worker.Options{
				BatchSize:       pcfg.WorkerBatchSize,
				BatchInterval:   pcfg.WorkerBatchInterval,
				MaxDeltaSeconds: pcfg.MaxDeltaSeconds(),
				OnCompleted:     svc.PublishCompleted,
			})
			if err != nil {
				return err
			}
		}

		errCh := make(chan error, 2)
		go func() {
			log.Info("grpc server starting", zap.String("addr", pcfg.GRPCAddr))
			errCh <- grpcSrv.Serve(lis)
		}()
		go func() {
			errCh <- srv.Start()
		}()
		return <-errCh
	})

	runner.Graceful(
		srv.Shutdown,
		func(ctx context.Context) error {
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				grpcSrv.Stop()
			}
			return nil
		},
		func(context.Context) error {
			if nc == nil {
				return nil
			}
			return nc.Drain()
		},
		func(context.Context) error {
			if c, ok := idem.(io.Closer); ok {
				return c.Close()
			}
			return nil
		},
	)

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
