package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/quizhub/accounts/internal/auth"
	"github.com/quizhub/accounts/internal/config"
	"github.com/quizhub/accounts/internal/event"
	handler "github.com/quizhub/accounts/internal/handler/http"
	identitypg "github.com/quizhub/accounts/internal/identity/postgres"
	"github.com/quizhub/accounts/internal/identity/remote"
	profilepg "github.com/quizhub/accounts/internal/profile/postgres"
	profileredis "github.com/quizhub/accounts/internal/profile/redis"
	"github.com/quizhub/accounts/internal/provisioning"
	"github.com/quizhub/accounts/internal/service"
	"github.com/quizhub/accounts/internal/worker"
	"github.com/quizhub/accounts/migrations"
	"github.com/quizhub/accounts/pkg/database"
	"github.com/quizhub/accounts/pkg/health"
	"github.com/quizhub/accounts/pkg/httpclient"
	pkgkafka "github.com/quizhub/accounts/pkg/kafka"
	"github.com/quizhub/accounts/pkg/middleware"
	"github.com/quizhub/accounts/pkg/tracing"
)

const idempotencyKeyPrefix = "accounts:reconciler:"

// App wires together all dependencies and runs the accounts service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumer       *pkgkafka.Consumer
	rateLimiter    *middleware.RateLimiter
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    handler.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	if err := a.initStores(ctx); err != nil {
		a.closeStores()
		return nil, err
	}

	// Identity provider and profile store.
	identities, err := a.identityProvider()
	if err != nil {
		a.closeStores()
		return nil, err
	}
	profiles := a.profileStore()

	// Kafka producers.
	a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	workflow := provisioning.NewWorkflow(identities, profiles,
		provisioning.WithStoreTimeout(cfg.StoreTimeout),
		provisioning.WithHookErrorHandler(service.HookErrorLogger(logger)),
	)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessExpiry)
	eventProducer := event.NewProducer(a.producer, logger)
	accountService := service.NewAccountService(workflow, profiles, eventProducer, jwtManager, logger)

	// Reconciliation worker.
	reconciler := worker.NewReconciler(accountService, logger)
	a.consumer = worker.NewConsumer(worker.Config{
		Brokers:    cfg.KafkaBrokers,
		MaxRetries: cfg.ReconcilerRetries,
		RetryBase:  cfg.ReconcilerBackoff,
	}, reconciler, pkgkafka.NewRedisIdempotencyStore(a.redis, idempotencyKeyPrefix, cfg.IdempotencyKeysTTL), a.dlq, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	if a.pool != nil {
		healthHandler.RegisterCritical("postgres", a.pool.Ping)
	}
	healthHandler.RegisterCritical("redis", database.RedisPinger(a.redis).Ping)
	healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	logger.Info("health checks registered", slog.Any("checks", healthHandler.Names()))

	// HTTP router.
	if cfg.RegisterRateLimit > 0 {
		a.rateLimiter = middleware.NewRateLimiter(cfg.RegisterRateLimit, cfg.RegisterRateBurst, logger,
			middleware.WithTrustedProxies(cfg.TrustedProxyCIDRs))
	}
	router := handler.NewRouter(accountService, handler.RouterConfig{
		TokenValidator:    jwtManager.Validator(),
		Health:            healthHandler,
		RateLimiter:       a.rateLimiter,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-ID"},
			MaxAge:         300,
			Environment:    cfg.Environment,
		},
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStores connects Redis and, when a backend needs it, PostgreSQL.
func (a *App) initStores(ctx context.Context) error {
	cfg := a.cfg

	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPass,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = redisClient
	a.logger.Info("connected to Redis", slog.String("host", cfg.RedisHost), slog.Int("port", cfg.RedisPort))

	if cfg.IdentityBackend != config.IdentityBackendPostgres && cfg.ProfileStore != config.ProfileStorePostgres {
		return nil
	}

	pool, err := database.NewPostgresPool(ctx, database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, handler.ServiceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}
	return nil
}

func (a *App) identityProvider() (provisioning.IdentityProvider, error) {
	cfg := a.cfg
	switch cfg.IdentityBackend {
	case config.IdentityBackendRemote:
		// no retries: a retried signUp that already succeeded would report EMAIL_EXISTS
		httpCfg := httpclient.DefaultConfig()
		httpCfg.Timeout = cfg.RemoteIdPTimeout
		httpCfg.MaxRetries = 0
		client := httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg),
			httpclient.DefaultCircuitBreakerConfig("identity-provider"), a.logger)

		a.logger.Info("using remote identity provider", slog.String("base_url", cfg.RemoteIdPBaseURL))
		return remote.NewIdentityProvider(client, remote.Config{
			BaseURL:    cfg.RemoteIdPBaseURL,
			APIKey:     cfg.RemoteIdPAPIKey,
			ProviderID: cfg.RemoteIdPProviderID,
			RequestURI: cfg.RemoteIdPRequestURI,
		}), nil
	case config.IdentityBackendPostgres:
		verifier := auth.NewFederatedVerifier(cfg.FederationSecret, cfg.FederationAudience, cfg.FederationIssuers...)
		policy := identitypg.DefaultPasswordPolicy
		policy.MinLength = cfg.PasswordMinLength
		return identitypg.NewIdentityProvider(a.pool, verifier,
			identitypg.WithPasswordPolicy(policy),
			identitypg.WithBcryptCost(cfg.BcryptCost),
		), nil
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.IdentityBackend)
	}
}

// profileStore returns the configured store. Both implementations also
// serve reads for the profile endpoint.
func (a *App) profileStore() interface {
	provisioning.ProfileStore
	service.ProfileReader
} {
	if a.cfg.ProfileStore == config.ProfileStorePostgres {
		return profilepg.NewProfileStore(a.pool)
	}
	return profileredis.NewProfileStore(a.redis)
}

// Run starts the HTTP server and the reconciler, and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var wg sync.WaitGroup

	if a.rateLimiter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.rateLimiter.Run(workerCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.consumer.Start(workerCtx); err != nil {
			a.logger.Error("reconciler consumer stopped", slog.String("error", err.Error()))
		}
	}()

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopWorkers()
		wg.Wait()
		return errors.Join(err, a.Shutdown())
	}

	stopWorkers()
	wg.Wait()
	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producers
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producers.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close stores.
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var err error
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			a.logger.Error("redis close error", slog.String("error", cerr.Error()))
			err = cerr
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}
