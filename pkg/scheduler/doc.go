// Package scheduler runs the bulk reconciler periodically.
//
// A Scheduler wraps a robfig/cron instance with a single sweep entry.
// A tick that fires while the previous sweep is still running is skipped,
// and with a Locker (the Redis client) only one replica sweeps at a time:
//
//	sched, err := scheduler.New(bulk, redisClient, scheduler.Config{
//		Schedule: "0 3 * * *",
//		LockTTL:  30 * time.Minute,
//	})
//	sched.Start()
//	defer sched.Stop(ctx)
//
// RunOnce triggers a sweep outside the schedule, honouring the same
// exclusion rules.
package scheduler
