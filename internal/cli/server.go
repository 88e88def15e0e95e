package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eco-points-service/internal/app"
	"eco-points-service/internal/config"
	"eco-points-service/internal/infra/memory"
	"eco-points-service/internal/infra/postgres"
	rediscache "eco-points-service/internal/infra/redis"
	"eco-points-service/internal/metrics"
	transport "eco-points-service/internal/transport/http"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the eco-points API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backend is the store chosen by configuration plus what it needs closed.
type backend struct {
	store app.Store
	ping  func(ctx context.Context) error
	close func()
}

// openBackend connects to Postgres when a URL is configured and falls back
// to the in-memory store otherwise.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, error) {
	if cfg.Postgres.URL == "" {
		logger.Warn("postgres url not configured, using in-memory store")
		return backend{store: memory.NewStore(), close: func() {}}, nil
	}

	pool, err := connectPostgres(ctx, cfg, logger)
	if err != nil {
		return backend{}, err
	}
	store := postgres.NewStore(pool)
	return backend{store: store, ping: store.Ping, close: pool.Close}, nil
}

func connectPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Postgres.MaxConns
	}

	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.ConnectConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}
	retries := uint64(config.IntOr(cfg.Postgres.ConnectRetries, 5))
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	err = backoff.RetryNotify(connect, policy, func(err error, wait time.Duration) {
		logger.Warn("postgres not ready, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// leaderboardCache is the read-through cache the ranking service reads and
// the scoring service invalidates.
type leaderboardCache interface {
	app.LeaderboardSource
	app.LeaderboardInvalidator
}

func newLeaderboardCache(cfg config.Config, store app.Store, logger *zap.Logger) (leaderboardCache, func()) {
	builder := app.NewLeaderboardBuilder(store)
	ttl := config.TTLDuration(cfg.Leaderboard.TTL, 30*time.Second)
	if cfg.Redis.Addr == "" {
		return memory.NewLeaderboardCache(builder, ttl), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return rediscache.NewLeaderboardCache(client, builder, ttl, logger), func() { _ = client.Close() }
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	ledger, err := app.ParseLedgerStrategy(cfg.Scoring.LedgerStrategy)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret (JWT_SECRET) is required")
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()
	if cfg.Postgres.URL == "" {
		if err := seedDemo(ctx, be.store, time.Now()); err != nil {
			return err
		}
	}

	cache, closeCache := newLeaderboardCache(cfg, be.store, logger)
	defer closeCache()

	m := metrics.New()
	ranking := app.NewRankingService(be.store, cache, cfg.Leaderboard.DefaultLimit, cfg.Leaderboard.MaxLimit)
	scoring := app.NewScoringService(be.store, logger,
		app.WithLedgerStrategy(ledger),
		app.WithLeaderboardInvalidator(cache),
		app.WithScoringObserver(m),
		app.WithMaxAttempts(cfg.Scoring.MaxAttempts),
	)
	handler := transport.NewHandler(scoring, ranking,
		app.NewDashboardService(be.store),
		app.NewContentService(be.store, ranking, logger),
		logger)

	routerCfg := transport.RouterConfig{
		Auth:           transport.NewAuthenticator(cfg.Auth.JWTSecret),
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         be.ping,
	}
	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	defer stopLimiter()
	if cfg.RateLimit.RPS > 0 {
		limiter := transport.NewRateLimiter(cfg.RateLimit.RPS, config.IntOr(cfg.RateLimit.Burst, 30)).
			TrustForwardedFor(cfg.RateLimit.TrustForwardedFor)
		go limiter.Cleanup(limiterCtx, time.Minute, 3*time.Minute)
		routerCfg.Limiter = limiter
	}

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(handler, routerCfg),
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	go func() {
		logger.Info("starting eco-points service",
			zap.String("port", finalPort),
			zap.String("ledger_strategy", string(ledger)),
			zap.Bool("postgres", cfg.Postgres.URL != ""),
			zap.Bool("redis", cfg.Redis.Addr != ""))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
