package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/usersync/pkg/reconcile"
)

var (
	// ErrSweepInProgress is returned when a sweep is already running in
	// this process
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrLockHeld is returned when another replica holds the sweep lock
	ErrLockHeld = errors.New("sweep lock held by another instance")
)

// Sweeper runs one bulk reconciliation pass
type Sweeper interface {
	Sweep(ctx context.Context, trigger string) (*reconcile.SweepResult, error)
}

// Locker is a distributed mutex keyed by name and owned by token
type Locker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

// Config for the scheduler
type Config struct {
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@hourly", evaluated in UTC
	Schedule string
	LockKey  string
	LockTTL  time.Duration
}

// Scheduler runs the bulk reconciler on a cron schedule. Overlapping runs
// are skipped, both within the process and, when a Locker is set, across
// replicas.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	locker  Locker
	config  Config
	holder  string
	log     *logrus.Entry

	mu      sync.Mutex
	entry   cron.EntryID
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler; locker may be nil for a single replica
func New(sweeper Sweeper, locker Locker, config Config) (*Scheduler, error) {
	if config.LockKey == "" {
		config.LockKey = "usersync:lock:sweep"
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Minute
	}

	log := logrus.WithField("component", "scheduler")
	cronLog := cron.PrintfLogger(log)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLog)),
		),
		sweeper: sweeper,
		locker:  locker,
		config:  config,
		holder:  uuid.NewString(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	if err := s.Reschedule(config.Schedule); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Reschedule replaces the sweep schedule. An empty schedule removes it.
func (s *Scheduler) Reschedule(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry cron.EntryID
	if schedule != "" {
		var err error
		entry, err = s.cron.AddFunc(schedule, s.tick)
		if err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
		}
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = entry
	s.config.Schedule = schedule
	s.log.WithField("schedule", schedule).Info("sweep schedule set")
	return nil
}

// Next returns the next scheduled run, zero when none is scheduled or the
// scheduler is not started
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Start begins running scheduled sweeps in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop halts scheduling and waits for a running sweep to finish. If ctx
// ends first the sweep is canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) tick() {
	result, err := s.RunOnce(s.ctx, reconcile.TriggerSchedule)
	switch {
	case errors.Is(err, ErrSweepInProgress), errors.Is(err, ErrLockHeld):
		s.log.WithError(err).Info("skipping scheduled sweep")
	case err != nil:
		s.log.WithError(err).Error("scheduled sweep failed")
	default:
		s.log.WithFields(logrus.Fields{
			"sweep_id":  result.ID,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"duration":  result.Duration().String(),
		}).Info("scheduled sweep finished")
	}
}

// RunOnce runs a sweep now unless one is already running
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (*reconcile.SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, s.config.LockKey, s.holder, s.config.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !ok {
			return nil, ErrLockHeld
		}
		defer func() {
			// Release with a fresh context so a canceled sweep still frees the lock
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := s.locker.ReleaseLock(releaseCtx, s.config.LockKey, s.holder); err != nil {
				s.log.WithError(err).Warn("failed to release sweep lock")
			}
		}()
	}

	return s.sweeper.Sweep(ctx, trigger)
}

// Running reports whether a sweep is in progress in this process
func (s *Scheduler) Running() bool {
	return s.running.Load()
}
