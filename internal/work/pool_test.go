package work

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasks(t *testing.T) {
	pool := NewPool(PoolConfig{QueueSize: 16, Workers: 2})
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := pool.Submit("test", func(ctx context.Context) {
			defer wg.Done()
			ran.Add(1)
		})
		if !ok {
			t.Fatal("Submit returned false with room in the queue")
		}
	}

	wg.Wait()
	if got := ran.Load(); got != 10 {
		t.Errorf("Expected 10 tasks run, got %d", got)
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	pool := NewPool(PoolConfig{QueueSize: 1, Workers: 1})
	// Not started: nothing consumes the queue, so the second submit
	// finds it full.

	if !pool.Submit("test", func(ctx context.Context) {}) {
		t.Fatal("First submit should fit the queue")
	}
	if pool.Submit("test", func(ctx context.Context) {}) {
		t.Error("Second submit should be dropped")
	}

	_, _, dropped := pool.Stats()
	if dropped != 1 {
		t.Errorf("Expected 1 dropped task, got %d", dropped)
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	pool := NewPool(PoolConfig{QueueSize: 16, Workers: 1})

	var ran atomic.Int32
	block := make(chan struct{})

	pool.Start(context.Background())

	// First task holds the single worker until released; the rest queue
	// behind it and must still run during Stop's drain.
	pool.Submit("test", func(ctx context.Context) {
		<-block
		ran.Add(1)
	})
	for i := 0; i < 5; i++ {
		pool.Submit("test", func(ctx context.Context) {
			ran.Add(1)
		})
	}

	close(block)
	pool.Stop(2 * time.Second)

	if got := ran.Load(); got != 6 {
		t.Errorf("Expected 6 tasks run after drain, got %d", got)
	}
}

func TestPoolStopIdempotent(t *testing.T) {
	pool := NewPool(DefaultPoolConfig())
	// Stop before Start is a no-op.
	pool.Stop(time.Second)

	pool.Start(context.Background())
	pool.Stop(time.Second)
}

func TestPoolContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(PoolConfig{QueueSize: 4, Workers: 2})
	pool.Start(ctx)

	cancel()

	// Workers exit on context cancellation; Stop must not block on them.
	done := make(chan struct{})
	go func() {
		pool.Stop(5 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after context cancellation")
	}
}
