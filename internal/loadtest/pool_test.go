package loadtest_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest"
)

func idleIteration(ctx context.Context, vu *loadtest.VU) error {
	time.Sleep(5 * time.Millisecond)
	return nil
}

func TestNewVUPool_RequiresIteration(t *testing.T) {
	_, err := loadtest.NewVUPool(loadtest.PoolConfig{})
	if !errors.Is(err, loadtest.ErrNoIteration) {
		t.Errorf("NewVUPool() error = %v, want ErrNoIteration", err)
	}
}

func TestVUPool_ScaleUp(t *testing.T) {
	pool, _ := newTestPool(t, idleIteration, nil)

	if got := pool.Scale(5); got != 5 {
		t.Errorf("Scale(5) = %d, want 5", got)
	}
	if pool.Spawned() != 5 {
		t.Errorf("Spawned() = %d, want 5", pool.Spawned())
	}

	// no change
	if got := pool.Scale(5); got != 5 {
		t.Errorf("Scale(5) again = %d, want 5", got)
	}
	if pool.Spawned() != 5 {
		t.Errorf("Spawned() = %d, want 5 after no-op scale", pool.Spawned())
	}

	pool.StopAll()
	if n := pool.Drain(time.Second); n != 0 {
		t.Errorf("Drain() = %d, want 0", n)
	}
}

func TestVUPool_ScaleDown(t *testing.T) {
	pool, _ := newTestPool(t, idleIteration, nil)

	pool.Scale(5)
	if got := pool.Scale(2); got != 2 {
		t.Errorf("Scale(2) = %d, want 2", got)
	}

	waitFor(t, time.Second, func() bool { return pool.RunningCount() == 2 })

	if got := pool.Scale(-1); got != 0 {
		t.Errorf("Scale(-1) = %d, want 0", got)
	}
	if n := pool.Drain(time.Second); n != 0 {
		t.Errorf("Drain() = %d, want 0", n)
	}
}

func TestVUPool_ScaleDownStopsNewestFirst(t *testing.T) {
	pool, _ := newTestPool(t, idleIteration, nil)

	vus := make([]*loadtest.VirtualUser, 0, 3)
	for i := 0; i < 3; i++ {
		vus = append(vus, pool.Spawn())
	}
	pool.Scale(1)

	for _, vu := range vus[1:] {
		if !vu.WaitForStop(time.Second) {
			t.Errorf("VU %d still running, want stopped", vu.ID)
		}
	}
	if st := vus[0].GetState(); st == loadtest.VUStateStopping || st == loadtest.VUStateStopped {
		t.Errorf("oldest VU state = %v, want running", st)
	}

	pool.StopAll()
	pool.Drain(time.Second)
}

func TestVUPool_StopDoesNotCancelIteration(t *testing.T) {
	var cancelled atomic.Int32
	var started sync.WaitGroup
	started.Add(3)
	var once [3]sync.Once

	pool, _ := newTestPool(t, func(ctx context.Context, vu *loadtest.VU) error {
		once[vu.ID-1].Do(started.Done)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			cancelled.Add(1)
		}
		return nil
	}, nil)

	pool.Scale(3)
	started.Wait()
	pool.StopAll()

	if n := pool.Drain(time.Second); n != 0 {
		t.Fatalf("Drain() = %d, want 0", n)
	}
	if cancelled.Load() != 0 {
		t.Errorf("%d iterations saw a cancelled context, want 0", cancelled.Load())
	}
	if pool.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", pool.ActiveCount())
	}
}

func TestVUPool_DrainTimeoutThenAbandon(t *testing.T) {
	var running atomic.Int32

	pool, engine := newTestPool(t, func(ctx context.Context, vu *loadtest.VU) error {
		running.Add(1)
		defer running.Add(-1)
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	pool.Scale(2)
	waitFor(t, time.Second, func() bool { return running.Load() == 2 })

	pool.StopAll()
	if n := pool.Drain(50 * time.Millisecond); n != 2 {
		t.Fatalf("Drain() = %d, want 2 stragglers", n)
	}

	engine.Seal()
	if n := pool.Abandon(); n != 2 {
		t.Errorf("Abandon() = %d, want 2", n)
	}
	if n := pool.Drain(time.Second); n != 0 {
		t.Errorf("Drain() after Abandon = %d, want 0", n)
	}

	// iterations that ended after the seal must not be counted
	if got := engine.Snapshot("iteration").Count; got != 0 {
		t.Errorf("iteration count = %d, want 0", got)
	}
	if engine.Discarded() != 2 {
		t.Errorf("Discarded() = %d, want 2", engine.Discarded())
	}
}
