package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
}

func (f *fakeConn) Send(ctx context.Context, msg *mail.Msg) error { return nil }
func (f *fakeConn) Refresh(ctx context.Context) error             { return nil }
func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func newCountingFactory() (Factory, *atomic.Int32) {
	var created atomic.Int32
	factory := func() (Conn, error) {
		id := int(created.Add(1))
		return &fakeConn{id: id}, nil
	}
	return factory, &created
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestPoolCreatesUpToLimit(t *testing.T) {
	t.Parallel()

	factory, created := newCountingFactory()
	pool, err := NewPool(factory, 3, 2, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	conns := make([]Conn, 0, 3)
	for i := 0; i < 3; i++ {
		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		conns = append(conns, conn)
	}

	if got := created.Load(); got != 3 {
		t.Fatalf("connections created = %d, want 3", got)
	}

	for _, conn := range conns {
		pool.Release(conn)
	}
}

func TestPoolBorrowsIdleAtLimit(t *testing.T) {
	t.Parallel()

	factory, created := newCountingFactory()
	pool, err := NewPool(factory, 1, 2, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(first)

	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if created.Load() != 1 {
		t.Fatalf("connections created = %d, want 1 (idle reuse)", created.Load())
	}
	if first != second {
		t.Fatal("expected the released connection to be handed back out")
	}
}

func TestPoolCreatesBeforeBorrowingUnderLimit(t *testing.T) {
	t.Parallel()

	factory, created := newCountingFactory()
	pool, err := NewPool(factory, 2, 2, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(first)

	// One connection sits idle but the pool is still under its limit: the
	// fast path creates a fresh connection instead of borrowing.
	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if created.Load() != 2 {
		t.Fatalf("connections created = %d, want 2 (create-first under limit)", created.Load())
	}
	if first == second {
		t.Fatal("expected a fresh connection while under the limit")
	}
}

func TestPoolDegradesToOverAllocation(t *testing.T) {
	t.Parallel()

	factory, created := newCountingFactory()
	pool, err := NewPool(factory, 1, 3, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	var waits []time.Duration
	pool.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Nothing idle and nothing released: the pool must retry with linear
	// backoff and then hand out an over-limit connection.
	extra, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if extra == nil {
		t.Fatal("degraded acquire should still produce a connection")
	}
	if created.Load() != 2 {
		t.Fatalf("connections created = %d, want 2", created.Load())
	}

	if len(waits) != 3 {
		t.Fatalf("backoff sleeps = %d, want 3", len(waits))
	}
	for i, wait := range waits {
		want := time.Duration(i+1) * defaultAcquireBaseDelay
		if wait != want {
			t.Fatalf("backoff[%d] = %s, want %s (linear)", i, wait, want)
		}
	}

	// Releasing while over capacity disposes instead of re-queuing.
	pool.Release(extra)
	if !extra.(*fakeConn).closed.Load() {
		t.Fatal("over-limit connection should be closed on release")
	}

	pool.Release(held)
	if held.(*fakeConn).closed.Load() {
		t.Fatal("in-limit connection should be re-queued, not closed")
	}
}

func TestPoolAcquireHonorsCancellation(t *testing.T) {
	t.Parallel()

	factory, _ := newCountingFactory()
	pool, err := NewPool(factory, 1, 5, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	pool.sleep = noSleep

	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Acquire(ctx); err == nil {
		t.Fatal("Acquire() with canceled context should fail")
	}
}

func TestPoolDiscardFreesSlot(t *testing.T) {
	t.Parallel()

	factory, created := newCountingFactory()
	pool, err := NewPool(factory, 1, 2, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	pool.Discard(conn)
	if !conn.(*fakeConn).closed.Load() {
		t.Fatal("discarded connection should be closed")
	}

	replacement, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after discard error = %v", err)
	}
	if replacement == nil || created.Load() != 2 {
		t.Fatalf("discard should free a slot for a fresh connection, created = %d", created.Load())
	}
}

func TestPoolConcurrentCheckoutStaysBounded(t *testing.T) {
	t.Parallel()

	const maxConnections = 4
	const workers = 32

	factory, _ := newCountingFactory()
	pool, err := NewPool(factory, maxConnections, 50, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	pool.acquireBaseDelay = time.Millisecond

	var checkedOut atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			conn, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}

			current := checkedOut.Add(1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}

			time.Sleep(time.Millisecond)
			checkedOut.Add(-1)
			pool.Release(conn)
		}()
	}

	wg.Wait()

	if got := peak.Load(); got > maxConnections {
		t.Fatalf("peak checked-out connections = %d, want <= %d", got, maxConnections)
	}
}
