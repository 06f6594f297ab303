package main

import (
	"context"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/learning-progress/internal/platform/auth"
	"github.com/example/learning-progress/internal/platform/cache"
	"github.com/example/learning-progress/internal/platform/config"
	"github.com/example/learning-progress/internal/platform/db"
	"github.com/example/learning-progress/internal/platform/events"
	"github.com/example/learning-progress/internal/platform/httpserver"
	"github.com/example/learning-progress/internal/platform/idempotency"
	"github.com/example/learning-progress/internal/platform/logging"
	"github.com/example/learning-progress/internal/platform/natsconn"
	"github.com/example/learning-progress/internal/platform/run"
	progresscfg "github.com/example/learning-progress/services/progress/internal/config"
	"github.com/example/learning-progress/services/progress/internal/handlers"
	"github.com/example/learning-progress/services/progress/internal/progress"
	"github.com/example/learning-progress/services/progress/internal/store"
	"github.com/example/learning-progress/services/progress/internal/terms"
	"github.com/example/learning-progress/services/progress/internal/worker"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.ForService(cfg.ServiceName, cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	svc := progresscfg.Load()

	ctx := context.Background()
	stores, closeStores := initBackend(ctx, log, cfg)
	defer closeStores()

	var redisCache *cache.RedisCache
	if cfg.RedisURL != "" {
		redisCache, err = cache.NewRedisCache(cfg.RedisURL, "progress:terms:", svc.StatusCacheTTL)
		if err != nil {
			log.Warn("redis config invalid, status terms cached in process only", zap.Error(err))
		} else {
			defer func() { _ = redisCache.Close() }()
		}
	}
	var remote terms.RemoteCache
	if redisCache != nil {
		remote = redisCache
	}
	resolver := terms.NewCached(stores.terms, remote, log)

	var js nats.JetStreamContext
	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName, Logger: log})
	if err != nil {
		if cfg.IsProduction() {
			log.Error("nats connect", zap.Error(err))
			run.Exit(1)
		}
		log.Warn("nats unavailable, events and playhead consumer disabled", zap.Error(err))
	} else {
		defer nc.Close()
		if js, err = nc.JetStream(); err != nil {
			log.Error("jetstream", zap.Error(err))
			run.Exit(1)
		}
		if err := natsconn.EnsureStream(js, natsconn.StreamConfig{
			Name:     svc.StreamName,
			Subjects: []string{"progress.>"},
			MaxAge:   7 * 24 * time.Hour,
		}); err != nil {
			log.Error("jetstream stream", zap.Error(err))
			run.Exit(1)
		}
	}

	orch := progress.NewOrchestrator(progress.Options{
		Store:           stores.records,
		Content:         stores.content,
		Terms:           resolver,
		Events:          events.New(js, log),
		Logger:          log,
		ViewedThreshold: svc.ViewedThreshold,
	})

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: stores.ready, Logger: log})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}))
		handlers.New(orch, log).Routes(r)
	})
	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Logger: log, Router: r})

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	components := []run.Component{
		{Name: "http", Start: srv.Start, Stop: srv.Shutdown},
		{
			Name: "grpc",
			Start: func(context.Context) error {
				lis, err := net.Listen("tcp", cfg.GRPC.Addr)
				if err != nil {
					return err
				}
				healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
				log.Info("grpc server starting", zap.String("addr", cfg.GRPC.Addr))
				return grpcSrv.Serve(lis)
			},
			Stop: func(ctx context.Context) error {
				healthSrv.Shutdown()
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
		},
	}

	if js != nil {
		sub, err := worker.Subscribe(js)
		if err != nil {
			log.Error("playhead subscribe", zap.Error(err))
			run.Exit(1)
		}
		opts := idempotency.Options{Pool: stores.pool, Prefix: "playhead:", IsProd: cfg.IsProduction()}
		if redisCache != nil {
			opts.Redis = redisCache.Client
		}
		dedup, err := idempotency.NewStore(opts)
		if err != nil {
			log.Error("idempotency store", zap.Error(err))
			run.Exit(1)
		}
		consumer := worker.NewPlayheadConsumer(sub, orch, dedup, worker.Options{
			BatchSize: svc.WorkerBatchSize,
			MaxWait:   svc.WorkerBatchInterval,
			Logger:    log,
		})
		components = append(components, run.Component{Name: "playhead_consumer", Start: consumer.Run})
	}

	code := run.New(log).WithSignals(components...)
	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

type backend struct {
	pool    *pgxpool.Pool
	records store.ProgressStore
	content store.ContentLookup
	terms   terms.Resolver
	ready   func() error
}

// initBackend selects Postgres when DATABASE_URL is set. Outside production
// it falls back to in-memory stores.
func initBackend(ctx context.Context, log *zap.Logger, cfg config.AppConfig) (backend, func()) {
	memory := func() (backend, func()) {
		return backend{
			records: store.NewInMemoryStore(),
			content: store.NewInMemoryCatalog(),
			terms:   terms.DefaultDictionary(),
		}, func() {}
	}

	if cfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory progress store (development only)")
		return memory()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		if cfg.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory store", zap.Error(err))
		return memory()
	}

	log.Info("progress store: postgres")
	return backend{
		pool:    pool,
		records: store.NewPostgresStore(pool),
		content: store.NewPostgresCatalog(pool),
		terms:   terms.NewPostgresDictionary(pool),
		ready: func() error {
			c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(c)
		},
	}, pool.Close
}
