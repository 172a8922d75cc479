package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotRun marks a batch item that never reached a worker, typically
// because the parent context was canceled first.
var ErrNotRun = errors.New("task not run")

// SafeGo runs fn in a goroutine with panic recovery and a timeout.
// Errors are logged, never returned.
//
// Example:
//
//	SafeGo(ctx, 5*time.Second, "sweep archive", func(ctx context.Context) error {
//	    return archiver.Archive(ctx, result)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		log := logrus.WithField("task", taskName)
		defer func() {
			if r := recover(); r != nil {
				log.WithField("stack", string(debug.Stack())).Errorf("panic: %v", r)
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithError(err).Warn("background task failed")
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of workers, each task
// under its own timeout.
type WorkerPool struct {
	workers   int
	taskName  string
	timeout   time.Duration
	workCh    chan func(context.Context) error
	doneCh    chan struct{}
	errCh     chan error
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       *logrus.Entry
}

// NewWorkerPool creates and starts a worker pool. A non-positive worker
// count runs a single worker.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 8, "idp push", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return pusher.Push(ctx, user)
//	})
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
		log:      logrus.WithField("task", taskName),
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues a task. It blocks while the queue is full and fails once
// the pool has shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	// Sending on a closed workCh panics when Shutdown races with Submit.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker pool shut down")
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks
// to drain.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.closeWork()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}

// Errors returns the channel of task errors. Errors are dropped when
// nobody drains it.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) closeWork() {
	p.closeOnce.Do(func() {
		close(p.workCh)
	})
}

// wait closes the queue and blocks until every worker has returned
func (p *WorkerPool) wait() {
	p.closeWork()
	<-p.doneCh
	p.cancel()
}

func (p *WorkerPool) worker(id int) {
	log := p.log.WithField("worker", id)

	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				return
			}
			if err := p.run(fn); err != nil {
				select {
				case p.errCh <- err:
				default:
					log.WithError(err).Warn("error channel full, dropping error")
				}
			}
		}
	}
}

func (p *WorkerPool) run(fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("stack", string(debug.Stack())).Errorf("panic: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Batch runs fn over items on a bounded worker pool and returns one error
// per item, aligned by index. A nil entry means the item succeeded. Items
// never started because ctx was canceled report ErrNotRun.
//
// Example:
//
//	errs := Batch(ctx, users, 8, "idp push", 10*time.Second, func(ctx context.Context, u *identity.User) error {
//	    return pusher.Push(ctx, u)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	for i := range errs {
		errs[i] = ErrNotRun
	}
	if workers > len(items) {
		workers = len(items)
	}

	pool := NewWorkerPool(ctx, workers, taskName, timeout)

	for i, item := range items {
		i, item := i, item
		err := pool.Submit(func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic: %v", r)
				}
			}()
			errs[i] = fn(ctx, item)
			return nil
		})
		if err != nil {
			break
		}
	}

	pool.wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		for i, err := range errs {
			if err == ErrNotRun {
				errs[i] = fmt.Errorf("%w: %v", ErrNotRun, ctxErr)
			}
		}
	}
	return errs
}

// CountErrors returns how many entries of a Batch result are non-nil
func CountErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
