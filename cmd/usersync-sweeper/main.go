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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/usersync/pkg/api"
	"github.com/platinummonkey/usersync/pkg/config"
	"github.com/platinummonkey/usersync/pkg/keycloak"
	"github.com/platinummonkey/usersync/pkg/observability"
	"github.com/platinummonkey/usersync/pkg/reconcile"
	"github.com/platinummonkey/usersync/pkg/scheduler"
	"github.com/platinummonkey/usersync/pkg/storage"
	"github.com/platinummonkey/usersync/pkg/storage/postgres"
)

var runOnce = flag.Bool("run-once", false, "Run a single sweep and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "usersync-sweeper: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "usersync-sweeper")
	observability.ConfigureLogrus(cfg.Observability.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("sweeper exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	conns, err := postgres.NewConnectionManager(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer conns.Close()

	kc, err := keycloak.NewClient(cfg.Keycloak.Admin, logger)
	if err != nil {
		return err
	}

	var archiver reconcile.ReportArchiver
	switch {
	case cfg.Storage.S3Enabled():
		s3, err := postgres.NewS3Client(cfg.Storage)
		if err != nil {
			return err
		}
		archiver = s3
	case cfg.Storage.ReportDir != "":
		fs, err := storage.NewFileSystemArchiver(cfg.Storage.ReportDir)
		if err != nil {
			return err
		}
		archiver = fs
	}

	syncCfg := cfg.Sync.Reconcile()
	pusher := reconcile.NewPusher(kc, syncCfg, logger, metrics)
	bulk := reconcile.NewBulkReconciler(postgres.NewUserStore(conns), pusher, archiver, syncCfg, logger, metrics)

	// Without Redis, overlapping sweeps are only prevented within this process
	var locker scheduler.Locker
	if cfg.Storage.RedisEnabled() {
		redisClient, err := postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = redisClient
	}

	schedule := cfg.Sync.Schedule
	if *runOnce {
		schedule = ""
	}
	sched, err := scheduler.New(bulk, locker, scheduler.Config{
		Schedule: schedule,
		LockKey:  cfg.Session.KeyPrefix + "lock:sweep",
		LockTTL:  cfg.Sync.LockTTL,
	})
	if err != nil {
		return err
	}

	if *runOnce {
		result, err := sched.RunOnce(ctx, reconcile.TriggerManual)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"sweep_id":  result.ID,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
		}).Info("sweep completed")
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d users failed to push", result.Failed, result.Total)
		}
		return nil
	}

	if schedule == "" {
		return errors.New("no sweep schedule configured, set USERSYNC_SYNC_SCHEDULE or use --run-once")
	}

	checker := observability.NewHealthChecker(conns.Primary(), nil)
	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     api.OpsHandler(checker, registry),
		ReadTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("ops server failed")
		}
	}()

	if cfg.File != "" {
		err := config.Watch(ctx, cfg.File, logger, func(o *config.Overlay) {
			if o.LogLevel != "" {
				level := observability.ParseLogLevel(o.LogLevel)
				logger.SetLevel(level)
				observability.ConfigureLogrus(level)
			}
			if o.SweepSchedule != "" {
				if err := sched.Reschedule(o.SweepSchedule); err != nil {
					logger.WithError(err).Warn("keeping previous sweep schedule")
				}
			}
		})
		if err != nil {
			logger.WithError(err).Warn("config file will not be reloaded")
		}
	}

	sched.Start()
	logger.WithField("schedule", schedule).Info("sweeper started")

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, opsServer)
	shutdown.RegisterShutdownFunc(sched.Stop)
	return shutdown.WaitForShutdown(ctx)
}
