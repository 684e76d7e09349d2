package middleware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestComputePoolRunsTasks(t *testing.T) {
	p := NewComputePool(WithWorkers(2), WithQueueSize(8))
	p.Start()
	defer p.Stop()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(context.Background(), func(context.Context) error {
				n.Add(1)
				return nil
			}); err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()
	if n.Load() != 20 {
		t.Fatalf("expected 20 tasks, ran %d", n.Load())
	}
}

func TestComputePoolBoundsConcurrency(t *testing.T) {
	p := NewComputePool(WithWorkers(2), WithQueueSize(16))
	p.Start()
	defer p.Stop()

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), func(context.Context) error {
				v := cur.Add(1)
				for {
					old := peak.Load()
					if v <= old || peak.CompareAndSwap(old, v) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
}

func TestComputePoolPropagatesErrorAndPanic(t *testing.T) {
	p := NewComputePool(WithWorkers(1))
	p.Start()
	defer p.Stop()

	boom := errors.New("boom")
	if err := p.Run(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := p.Run(context.Background(), func(context.Context) error { panic("bad") }); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	// the worker survives the panic
	if err := p.Run(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("run after panic: %v", err)
	}
}

func TestComputePoolContextCancel(t *testing.T) {
	p := NewComputePool(WithWorkers(1))
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	called := false
	if err := p.Run(cancelled, func(context.Context) error { called = true; return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if called {
		t.Fatalf("task must not run with a cancelled context")
	}
}

func TestComputePoolClosed(t *testing.T) {
	p := NewComputePool(WithWorkers(1))
	if err := p.Run(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed before start, got %v", err)
	}
	p.Start()
	p.Stop()
	p.Stop()
	if err := p.Run(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed after stop, got %v", err)
	}
}

func TestComputePoolQueueGauge(t *testing.T) {
	var last atomic.Int32
	last.Store(-1)
	p := NewComputePool(WithWorkers(1), WithQueueGauge(func(n int) { last.Store(int32(n)) }))
	p.Start()
	defer p.Stop()
	if err := p.Run(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if last.Load() != 0 {
		t.Fatalf("expected gauge to settle at 0, got %d", last.Load())
	}
}
