package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/usersync/pkg/api"
	"github.com/platinummonkey/usersync/pkg/async"
	"github.com/platinummonkey/usersync/pkg/config"
	"github.com/platinummonkey/usersync/pkg/keycloak"
	"github.com/platinummonkey/usersync/pkg/middleware"
	"github.com/platinummonkey/usersync/pkg/observability"
	"github.com/platinummonkey/usersync/pkg/reconcile"
	"github.com/platinummonkey/usersync/pkg/session"
	"github.com/platinummonkey/usersync/pkg/storage"
	"github.com/platinummonkey/usersync/pkg/storage/postgres"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", true, "Apply the database schema on startup")
	ensureRoles := flag.Bool("ensure-roles", true, "Create missing realm roles on startup")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "usersync: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "usersync")
	observability.ConfigureLogrus(cfg.Observability.LogLevel)
	if err := run(cfg, logger, *migrate, *ensureRoles); err != nil {
		logger.WithError(err).Error("usersync exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrate, ensureRoles bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer observability.RecoverPanic(logger, "main")

	otelCfg := cfg.Observability.OTel()
	otelCfg.ServiceVersion = version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		metrics.WithOTel(otelMetrics)
	}

	// Local store
	conns, err := postgres.NewConnectionManager(cfg.Storage, logger)
	if err != nil {
		return err
	}
	if migrate {
		if err := postgres.Migrate(ctx, conns.Primary(), cfg.Storage.Driver); err != nil {
			conns.Close()
			return err
		}
	}
	conns.StartHealthCheckRoutine(ctx, 30*time.Second, metrics)
	store := postgres.NewUserStore(conns)

	// Identity provider
	kc, err := keycloak.NewClient(cfg.Keycloak.Admin, logger)
	if err != nil {
		conns.Close()
		return err
	}
	verifier, err := keycloak.NewVerifier(ctx, cfg.Keycloak.Verifier())
	if err != nil {
		conns.Close()
		return err
	}

	archiver, err := newArchiver(cfg.Storage)
	if err != nil {
		conns.Close()
		return err
	}

	syncCfg := cfg.Sync.Reconcile()
	engine := reconcile.NewEngine(store, syncCfg, logger, metrics)
	pusher := reconcile.NewPusher(kc, syncCfg, logger, metrics)
	provisioner := reconcile.NewProvisioner(kc, syncCfg, logger)
	bulk := reconcile.NewBulkReconciler(store, pusher, archiver, syncCfg, logger, metrics)
	service := reconcile.NewService(store, kc, pusher, provisioner, bulk, syncCfg, logger)

	if ensureRoles {
		// Failures are logged only; POST /api/admin/sync/roles/ensure retries
		async.SafeGo(ctx, time.Minute, "ensure realm roles", service.EnsureRoles)
	}

	// Sessions and rate limiting need Redis; without it only bearer auth works
	deps := api.Dependencies{
		Users:   service,
		Sync:    service,
		Logger:  logger,
		Metrics: metrics,
	}
	var redisClient *postgres.RedisClient
	var sessions *session.Store
	if cfg.Storage.RedisEnabled() {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			conns.Close()
			return err
		}
		sessions = session.NewStore(redisClient, cfg.Session.Store())
		deps.Sessions = sessions
		if cfg.Session.RateLimit > 0 {
			deps.SessionLimiter = middleware.NewDistributedRateLimiter(redisClient, &middleware.RateLimitConfig{
				RequestsPerWindow: cfg.Session.RateLimit,
				WindowDuration:    time.Minute,
				BurstSize:         cfg.Session.RateLimitBurst,
			}, cfg.Session.KeyPrefix+"ratelimit")
		}
	} else {
		logger.Warn("no redis configured, sessions disabled")
	}

	if cfg.Server.AdminRateLimit > 0 {
		adminLimits := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Server.AdminRateLimit,
			WindowDuration:    time.Minute,
		}
		if redisClient != nil {
			deps.AdminLimiter = middleware.NewDistributedRateLimiter(redisClient, adminLimits, cfg.Session.KeyPrefix+"ratelimit:admin")
		} else {
			local := middleware.NewRateLimiter(adminLimits)
			local.StartCleanup(ctx)
			deps.AdminLimiter = local
		}
	}

	var sessionLookup middleware.SessionLookup
	if sessions != nil {
		sessionLookup = sessions
	}
	deps.Auth = middleware.NewAuthMiddleware(verifier, engine, sessionLookup, store, logger)

	server := api.NewServer(api.Config{
		Public: api.PublicConfig{
			Realm:         cfg.Keycloak.Admin.Realm,
			AuthServerURL: cfg.Keycloak.Admin.BaseURL,
			ClientID:      cfg.Keycloak.PublicClientID,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}, deps)

	checker := observability.NewHealthChecker(conns.Primary(), redisGoClient(redisClient))
	checker.SetVersion(version)
	checker.AddCheck("replicas", false, conns.HealthCheck)
	checker.AddCheck("keycloak", false, func(ctx context.Context) error {
		if !kc.TestConnection(ctx) {
			return errors.New("identity provider unreachable")
		}
		return nil
	})
	if s3, ok := archiver.(*postgres.S3Client); ok {
		checker.AddCheck("s3", false, s3.HealthCheck)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     api.OpsHandler(checker, registry),
		ReadTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, opsServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return conns.Close() })
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	if cfg.File != "" {
		err := config.Watch(ctx, cfg.File, logger, func(o *config.Overlay) {
			if o.LogLevel != "" {
				level := observability.ParseLogLevel(o.LogLevel)
				logger.SetLevel(level)
				observability.ConfigureLogrus(level)
				logger.WithField("level", level.String()).Info("log level changed")
			}
		})
		if err != nil {
			logger.WithError(err).Warn("config file will not be reloaded")
		}
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, opsServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err := <-errCh; err != nil {
			logger.WithError(err).Error("server failed")
			stopWaiting()
		}
	}()
	return shutdown.WaitForShutdown(waitCtx)
}

// newArchiver picks S3 when a bucket is configured, then a local report
// directory, otherwise no archive
func newArchiver(cfg storage.Config) (reconcile.ReportArchiver, error) {
	switch {
	case cfg.S3Enabled():
		return postgres.NewS3Client(cfg)
	case cfg.ReportDir != "":
		return storage.NewFileSystemArchiver(cfg.ReportDir)
	default:
		return nil, nil
	}
}

func redisGoClient(c *postgres.RedisClient) *redis.Client {
	if c == nil {
		return nil
	}
	return c.GetClient()
}
