package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSafeGo_Success(t *testing.T) {
	ctx := context.Background()
	executed := atomic.Bool{}

	SafeGo(ctx, 1*time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	time.Sleep(100 * time.Millisecond)

	if !executed.Load() {
		t.Error("SafeGo did not execute function")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	ctx := context.Background()
	completed := atomic.Bool{}
	canceled := atomic.Bool{}

	SafeGo(ctx, 50*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			canceled.Store(true)
			return ctx.Err()
		}
	})

	time.Sleep(150 * time.Millisecond)

	if completed.Load() {
		t.Error("Function should have been canceled by timeout")
	}
	if !canceled.Load() {
		t.Error("Function did not observe the timeout")
	}
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	ctx := context.Background()
	executed := atomic.Bool{}

	SafeGo(ctx, 1*time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		panic("test panic")
	})

	time.Sleep(100 * time.Millisecond)

	if !executed.Load() {
		t.Error("SafeGo did not execute function before panic")
	}
}

func TestWorkerPool_Basic(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 2, "test pool", 1*time.Second)

	executed := atomic.Int32{}
	for i := 0; i < 10; i++ {
		err := pool.Submit(func(ctx context.Context) error {
			executed.Add(1)
			return nil
		})
		if err != nil {
			t.Errorf("Failed to submit task: %v", err)
		}
	}

	if err := pool.Shutdown(1 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if executed.Load() != 10 {
		t.Errorf("Expected 10 executions, got %d", executed.Load())
	}
}

func TestWorkerPool_WithErrors(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 2, "test pool", 1*time.Second)

	for i := 0; i < 5; i++ {
		err := pool.Submit(func(ctx context.Context) error {
			return errors.New("test error")
		})
		if err != nil {
			t.Errorf("Failed to submit task: %v", err)
		}
	}
	if err := pool.Shutdown(1 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	errorCount := 0
	for {
		select {
		case <-pool.Errors():
			errorCount++
		default:
			goto done
		}
	}
done:

	if errorCount != 5 {
		t.Errorf("Expected 5 errors, got %d", errorCount)
	}
}

func TestWorkerPool_PanicBecomesError(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test pool", 1*time.Second)

	if err := pool.Submit(func(ctx context.Context) error { panic("boom") }); err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}
	if err := pool.Shutdown(1 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case err := <-pool.Errors():
		if err == nil || err.Error() != "panic: boom" {
			t.Errorf("Expected panic error, got %v", err)
		}
	default:
		t.Error("Expected panic to be reported as an error")
	}
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "test pool", 1*time.Second)
	if err := pool.Shutdown(1 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	err := pool.Submit(func(ctx context.Context) error { return nil })
	if err == nil {
		t.Error("Expected error when submitting after shutdown")
	}

	// second shutdown is a no-op
	if err := pool.Shutdown(1 * time.Second); err != nil {
		t.Errorf("Second shutdown failed: %v", err)
	}
}

func TestWorkerPool_Timeout(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 1, "test pool", 50*time.Millisecond)
	defer pool.Shutdown(1 * time.Second)

	timedOut := atomic.Bool{}
	err := pool.Submit(func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	})
	if err != nil {
		t.Errorf("Failed to submit task: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if !timedOut.Load() {
		t.Error("Task should have timed out")
	}
}

func TestBatch(t *testing.T) {
	ctx := context.Background()
	items := []int{1, 2, 3, 4, 5}
	executed := atomic.Int32{}

	errs := Batch(ctx, items, 2, "test batch", 1*time.Second, func(ctx context.Context, item int) error {
		executed.Add(1)
		return nil
	})

	if len(errs) != len(items) {
		t.Fatalf("Expected %d results, got %d", len(items), len(errs))
	}
	if n := CountErrors(errs); n != 0 {
		t.Errorf("Expected no errors, got %d", n)
	}
	if executed.Load() != 5 {
		t.Errorf("Expected 5 executions, got %d", executed.Load())
	}
}

func TestBatch_ErrorsAlignedWithItems(t *testing.T) {
	ctx := context.Background()
	items := []int{1, 2, 3, 4, 5}

	errs := Batch(ctx, items, 3, "test batch", 1*time.Second, func(ctx context.Context, item int) error {
		if item%2 == 0 {
			return errors.New("even number error")
		}
		return nil
	})

	if n := CountErrors(errs); n != 2 {
		t.Errorf("Expected 2 errors, got %d", n)
	}
	for i, item := range items {
		if (item%2 == 0) != (errs[i] != nil) {
			t.Errorf("Item %d: unexpected result %v", item, errs[i])
		}
	}
}

func TestBatch_MoreItemsThanErrorBuffer(t *testing.T) {
	items := make([]int, 200)
	for i := range items {
		items[i] = i
	}

	errs := Batch(context.Background(), items, 2, "test batch", 1*time.Second, func(ctx context.Context, item int) error {
		return errors.New("always fails")
	})

	if n := CountErrors(errs); n != len(items) {
		t.Errorf("Expected %d errors, got %d", len(items), n)
	}
}

func TestBatch_PanicIsolated(t *testing.T) {
	items := []string{"ok", "panic", "ok"}

	errs := Batch(context.Background(), items, 2, "test batch", 1*time.Second, func(ctx context.Context, item string) error {
		if item == "panic" {
			panic("bad item")
		}
		return nil
	})

	if errs[0] != nil || errs[2] != nil {
		t.Errorf("Expected healthy items to succeed, got %v", errs)
	}
	if errs[1] == nil {
		t.Error("Expected panicking item to report an error")
	}
}

func TestBatch_Empty(t *testing.T) {
	errs := Batch(context.Background(), []int(nil), 4, "test batch", time.Second, func(ctx context.Context, item int) error {
		t.Error("fn should not be called")
		return nil
	})
	if len(errs) != 0 {
		t.Errorf("Expected empty result, got %d", len(errs))
	}
}

func TestBatch_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := []int{1, 2, 3, 4, 5}
	executed := atomic.Int32{}

	cancel()

	errs := Batch(ctx, items, 2, "test batch", 1*time.Second, func(ctx context.Context, item int) error {
		executed.Add(1)
		return nil
	})

	if executed.Load() != 0 {
		t.Errorf("Expected no executions after cancellation, got %d", executed.Load())
	}
	for i, err := range errs {
		if !errors.Is(err, ErrNotRun) {
			t.Errorf("Item %d: expected ErrNotRun, got %v", i, err)
		}
	}
}
