package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/usersync/pkg/async"
	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/observability"
)

// Sweep triggers
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// SweepFailure records one user whose push failed during a sweep
type SweepFailure struct {
	Username string `json:"username"`
	Error    string `json:"error"`
}

// SweepResult summarises a bulk push. Succeeded + Failed always equals the
// number of users listed at the start of the sweep.
type SweepResult struct {
	ID         string         `json:"id"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Failures   []SweepFailure `json:"failures,omitempty"`
}

// Duration returns how long the sweep ran
func (r *SweepResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// BulkReconciler pushes every local user to the identity provider on a
// bounded worker pool
type BulkReconciler struct {
	store    UserStore
	pusher   *Pusher
	archiver ReportArchiver
	config   Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	last     atomic.Pointer[SweepResult]
}

// NewBulkReconciler creates a bulk reconciler. archiver and metrics may be nil.
func NewBulkReconciler(store UserStore, pusher *Pusher, archiver ReportArchiver, config Config, logger *observability.Logger, metrics *observability.Metrics) *BulkReconciler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &BulkReconciler{
		store:    store,
		pusher:   pusher,
		archiver: archiver,
		config:   config.withDefaults(),
		logger:   logger.WithField("component", "sweep"),
		metrics:  metrics,
	}
}

// PushAll pushes every local user and reports the counts. Per-user
// failures are logged and counted, never returned. An error is returned
// only when the user list itself cannot be read.
func (b *BulkReconciler) PushAll(ctx context.Context) (*SweepResult, error) {
	return b.Sweep(ctx, TriggerManual)
}

// Sweep is PushAll with an explicit trigger label
func (b *BulkReconciler) Sweep(ctx context.Context, trigger string) (*SweepResult, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Sweep")
	defer span.End()

	result := &SweepResult{
		ID:        b.config.NewID(),
		Trigger:   trigger,
		StartedAt: b.config.Now(),
	}
	log := b.logger.WithFields(map[string]interface{}{
		"sweep_id": result.ID,
		"trigger":  trigger,
	})

	users, err := b.listUsers(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list users for sweep: %w", err)
	}

	b.metrics.SweepStarted(trigger)
	log.WithField("users", len(users)).Info("starting bulk push")

	var skipped atomic.Int64
	errs := async.Batch(ctx, users, b.config.Workers, "idp push", b.config.ItemTimeout,
		func(ctx context.Context, user *identity.User) error {
			pushed, err := b.pusher.push(ctx, user)
			if err == nil && !pushed {
				skipped.Add(1)
			}
			return err
		})

	result.Total = len(users)
	for i, err := range errs {
		if err == nil {
			result.Succeeded++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, SweepFailure{
			Username: users[i].Username,
			Error:    err.Error(),
		})
		log.WithField("username", users[i].Username).WithError(err).Warn("failed to push user")
	}
	result.Skipped = int(skipped.Load())
	result.FinishedAt = b.config.Now()

	span.SetAttributes(
		attribute.Int("sweep.total", result.Total),
		attribute.Int("sweep.failed", result.Failed),
	)
	b.metrics.SweepFinished(result.Duration(), result.Succeeded, result.Failed)
	b.last.Store(result)

	log.WithFields(map[string]interface{}{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	}).Info("bulk push finished")

	b.archive(ctx, result)
	return result, nil
}

// LastResult returns the most recent sweep result, or nil before the first sweep
func (b *BulkReconciler) LastResult() *SweepResult {
	return b.last.Load()
}

func (b *BulkReconciler) listUsers(ctx context.Context) ([]*identity.User, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	users, err := b.store.List(ctx)
	b.metrics.RecordStoreOperation("list", time.Since(start), err)
	return users, err
}

func (b *BulkReconciler) archive(ctx context.Context, result *SweepResult) {
	if b.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.config.IdPTimeout)
	defer cancel()

	if err := b.archiver.ArchiveSweep(ctx, result); err != nil {
		b.logger.WithField("sweep_id", result.ID).WithError(err).Warn("failed to archive sweep result")
	}
}
