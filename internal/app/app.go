package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/utafrali/storefront/internal/auth"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/event"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/orderlookup"
	"github.com/utafrali/storefront/internal/ratelimit"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/repository/memory"
	"github.com/utafrali/storefront/internal/repository/postgres"
	redisrepo "github.com/utafrali/storefront/internal/repository/redis"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/migrations"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/tracing"
)

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	dlq            *kafka.Writer
	orderCompleted *pkgkafka.Consumer
	limiter        *ratelimit.MemoryLimiter
	carts          *memory.CartRepository
	sessions       *memory.GuestSessionRepository
	httpLimiter    *middleware.RateLimiter
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// stores groups the repositories selected by configuration.
type stores struct {
	carts       repository.CartRepository
	sessions    repository.GuestSessionRepository
	coupons     repository.CouponRepository
	orders      repository.OrderLookup
	collections repository.UserCollectionRepository
	limiter     ratelimit.Limiter
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)

	healthHandler := health.NewHandler()
	st, err := a.openStores(ctx, healthHandler)
	if err != nil {
		_ = a.closeConnections()
		return nil, err
	}

	// Kafka is optional; without it events are dropped and the order
	// completed consumer does not run.
	var publisher event.Publisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := a.producer.Ping(ctx); err != nil {
			logger.Warn("kafka producer ping failed, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		healthHandler.Register("kafka", a.producer.Ping)
		publisher = a.producer
	}
	events := event.NewProducer(publisher, logger)

	// Build the dependency graph.
	metrics := service.NewMetrics(prometheus.DefaultRegisterer)
	coupons := service.NewCouponService(st.coupons, st.orders, st.limiter, st.sessions, events, metrics, logger)
	carts := service.NewCartService(st.carts, coupons, events, metrics, logger, service.CartConfig{
		Currency: cfg.CartCurrency,
		TTL:      cfg.CartTTL(),
	})
	guests := service.NewGuestSessionService(st.sessions, metrics, logger, cfg.GuestSessionTTL())
	reconcile := service.NewReconciliationService(st.sessions, st.collections, events, metrics, logger)

	if cfg.KafkaEnabled {
		a.dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
		var idempotency pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
		if a.rdb != nil {
			idempotency = pkgkafka.NewRedisIdempotencyStore(a.rdb, cfg.ServiceName+":events:", 24*time.Hour)
		}
		a.orderCompleted = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID + "-order-completed",
			Topic:    event.TopicOrderCompleted,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, pkgkafka.IdempotentHandler(idempotency, event.NewOrderCompletedHandler(carts, logger), logger), a.dlq, logger)
	}

	validateToken := middleware.TokenValidator(nil)
	if cfg.JWTSecret != "" {
		validateToken = auth.NewValidator(cfg.JWTSecret).Validate
	} else {
		logger.Warn("JWT_SECRET not set, bearer tokens are rejected")
	}

	cors := middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		ExposedHeaders: []string{middleware.CorrelationIDHeader, middleware.GuestSessionHeader, "Retry-After"},
	}
	middleware.SetTrustedProxies(cfg.TrustedProxyCIDRs, logger)
	a.httpLimiter = middleware.NewRateLimiter(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst, logger)
	router := handler.NewRouter(handler.Services{
		Carts:     carts,
		Coupons:   coupons,
		Guests:    guests,
		Reconcile: reconcile,
	}, healthHandler, handler.RouterConfig{
		ServiceName:       cfg.ServiceName,
		CORS:              cors,
		PprofCIDRs:        cfg.PprofAllowedCIDRs,
		TrustUserIDHeader: cfg.TrustUserIDHeader,
		ValidateToken:     validateToken,
		HTTPMetrics:       middleware.NewHTTPMetrics(prometheus.DefaultRegisterer),
		RateLimiter:       a.httpLimiter,
		MetricsHandler:    promhttp.Handler(),
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// openStores connects the configured backends and registers their health
// checks.
func (a *App) openStores(ctx context.Context, hh *health.Handler) (*stores, error) {
	cfg := a.cfg
	st := &stores{}
	rlCfg := ratelimit.Config{Limit: cfg.CouponRateLimit, Window: cfg.CouponRateWindow}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := database.NewRedisClient(ctx, cfg.Redis(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		a.logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		hh.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})

		st.carts = redisrepo.NewCartRepository(rdb, cfg.CartTTL())
		st.sessions = redisrepo.NewGuestSessionRepository(rdb, cfg.GuestSessionTTL())
		st.limiter = ratelimit.NewRedisLimiter(rdb, "coupon", rlCfg, time.Now)
	default:
		a.carts = memory.NewCartRepository(time.Now)
		st.carts = a.carts
		a.sessions = memory.NewGuestSessionRepository(time.Now)
		st.sessions = a.sessions
		a.limiter = ratelimit.NewMemoryLimiter(rlCfg, time.Now)
		st.limiter = a.limiter
	}

	if cfg.NeedsPostgres() {
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, cfg.ServiceName); err != nil {
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")
		hh.Register("postgres", pool.Ping)
	}

	// User collections live next to the coupon catalog.
	if cfg.CouponBackend == config.BackendPostgres {
		st.coupons = postgres.NewCouponRepository(a.pool)
		st.collections = postgres.NewUserCollectionRepository(a.pool)
	} else {
		st.coupons = memory.NewCouponRepository()
		st.collections = memory.NewUserCollectionRepository()
	}

	switch cfg.OrderLookupBackend {
	case config.BackendPostgres:
		st.orders = postgres.NewOrderLookup(a.pool)
	case config.BackendHTTP:
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("order-service"),
			a.logger,
		)
		st.orders = orderlookup.NewHTTPLookup(cfg.OrderServiceURL, client)
	default:
		st.orders = memory.NewOrderLookup()
	}

	a.logger.Info("stores configured",
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("coupon_backend", cfg.CouponBackend),
		slog.String("order_lookup_backend", cfg.OrderLookupBackend),
	)
	return st, nil
}

// Run starts the HTTP server, the Kafka consumer and background jobs, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.orderCompleted != nil {
		go func() {
			if err := a.orderCompleted.Start(ctx); err != nil {
				errCh <- fmt.Errorf("order completed consumer: %w", err)
			}
		}()
	}

	// In-memory backends drop expired entries themselves; redis expires keys.
	if a.limiter != nil {
		go a.limiter.Run(ctx, time.Minute)
	}
	if a.carts != nil {
		go a.carts.Run(ctx, a.cfg.MemorySweepInterval)
	}
	if a.sessions != nil {
		go a.sessions.Run(ctx, a.cfg.MemorySweepInterval)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		if shutdownErr := a.Shutdown(); shutdownErr != nil {
			a.logger.Error("shutdown after failure", slog.String("error", shutdownErr.Error()))
		}
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components: HTTP first so in-flight requests
// drain, then the tracer, Kafka and finally the stores.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.httpLimiter.Stop()

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.orderCompleted != nil {
		if err := a.orderCompleted.Close(); err != nil {
			a.logger.Error("order completed consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq writer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.closeConnections())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeConnections releases the Redis client and the PostgreSQL pool.
func (a *App) closeConnections() error {
	var err error
	if a.rdb != nil {
		if cerr := a.rdb.Close(); cerr != nil {
			a.logger.Error("redis close error", slog.String("error", cerr.Error()))
			err = cerr
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}
