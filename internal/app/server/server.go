package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"paie/internal/domain/auth"
	"paie/internal/domain/payroll"
	"paie/internal/platform/config"
	"paie/internal/platform/db"
	"paie/internal/platform/jobs"
	"paie/internal/platform/lock"
	"paie/internal/platform/logger"
	payrollhandler "paie/internal/transport/http/handlers/payroll"
	"paie/internal/transport/http/middleware"
)

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Config  config.Config
	Log     *zap.Logger
	Payroll *payroll.Service
	Jobs    *jobs.Service
	Ready   []Pinger
}

func Run() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer cleanup()

	app.Jobs.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.PayrollBatchTimeout + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	log.Info("payroll server listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Environment))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}

// Build wires storage, locking and the payroll service from cfg. Without a
// DATABASE_URL the service runs on the in-memory store with demo data.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, func(), error) {
	var (
		store    payroll.StoreAPI
		ready    []Pinger
		cleanups []func()
	)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*App, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if cfg.DatabaseURL != "" {
		pool, err := openDatabase(ctx, cfg, log)
		if err != nil {
			return fail(err)
		}
		cleanups = append(cleanups, pool.Close)
		store = payroll.NewStore(pool)
		ready = append(ready, pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		mem := payroll.NewMemoryStore()
		for _, emp := range db.DemoEmployees() {
			mem.AddEmployee(emp)
		}
		if err := mem.SaveLegalParameters(ctx, payroll.DefaultParameters(2024)); err != nil {
			return fail(err)
		}
		store = mem
	}

	var locker payroll.Locker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		redisLocker, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		cleanups = append(cleanups, func() { _ = redisLocker.Close() })
		locker = redisLocker
		ready = append(ready, redisLocker)
	}

	svc := payroll.NewService(store, locker, payroll.ServiceConfig{
		Batch: payroll.BatchConfig{
			Workers:       cfg.PayrollWorkers,
			LockTTL:       cfg.PayrollLockTTL,
			FailurePolicy: payroll.FormulaFailurePolicy(cfg.FormulaFailurePolicy),
			FlagPolicy:    payroll.RubricFlagPolicy(cfg.RubricFlagPolicy),
		},
		BatchTimeout: cfg.PayrollBatchTimeout,
	}, log.Named("payroll"))

	if cfg.LegalParametersFile != "" {
		table, err := payroll.LoadParameterTable(cfg.LegalParametersFile)
		if err != nil {
			return fail(fmt.Errorf("load legal parameters: %w", err))
		}
		if err := svc.ImportParameterTable(ctx, table); err != nil {
			return fail(err)
		}
	}

	return &App{
		Config:  cfg,
		Log:     log,
		Payroll: svc,
		Jobs:    jobs.New(store, cfg.JobQueueSize, log.Named("jobs")),
		Ready:   ready,
	}, cleanup, nil
}

func openDatabase(ctx context.Context, cfg config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.RunMigrations {
		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}
	if cfg.RunSeed {
		n, err := db.Seed(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
		log.Info("seed finished", zap.Int("employees", n))
	}
	return pool, nil
}

func (a *App) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Auth(a.Config.JWTSecret))
	router.Use(middleware.Logger(a.Log.Named("http")))
	router.Use(middleware.Recoverer(a.Log))
	router.Use(middleware.SecureHeaders(a.Config.IsProduction()))
	router.Use(middleware.BodyLimit(a.Config.MaxBodyBytes))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, p := range a.Ready {
			if err := p.Ping(ctx); err != nil {
				a.Log.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if a.Config.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		if a.Config.RateLimitPerMinute > 0 {
			r.Use(middleware.RateLimit(a.Config.RateLimitPerMinute, time.Minute))
			r.Use(middleware.SensitiveMutationRateLimit(a.Config.RateLimitPerMinute, time.Minute))
		}
		payrollhandler.NewHandler(a.Payroll, a.Jobs, auth.NewStaticPermissions(), a.Log.Named("audit")).RegisterRoutes(r)
	})

	return router
}
