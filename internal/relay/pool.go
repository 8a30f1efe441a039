package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/mail-courier/internal/observability"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const (
	defaultMaxConnections   = 10
	defaultMaxAcquireTries  = 5
	defaultAcquireBaseDelay = 100 * time.Millisecond
)

// Conn is a pooled relay connection as seen by delivery providers.
type Conn interface {
	Send(ctx context.Context, msg *mail.Msg) error
	Refresh(ctx context.Context) error
	Close() error
}

// Factory creates a fresh relay connection.
type Factory func() (Conn, error)

// Pool bounds the number of concurrent live connections to one relay
// endpoint. While under the limit every acquire creates a fresh connection
// without consulting the idle queue; once the limit is reached callers
// borrow from the idle queue with linear backoff, and as a last resort one
// connection is created over the limit so a delivery is never failed solely
// because the pool is exhausted.
type Pool struct {
	factory          Factory
	maxConnections   int
	maxAcquireTries  int
	acquireBaseDelay time.Duration
	logger           *zap.Logger
	metrics          *observability.Metrics
	sleep            func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	idle []Conn
	live int
}

func NewPool(
	factory Factory,
	maxConnections int,
	maxAcquireTries int,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("connection factory is required")
	}
	if maxConnections < 1 {
		maxConnections = defaultMaxConnections
	}
	if maxAcquireTries < 1 {
		maxAcquireTries = defaultMaxAcquireTries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		factory:          factory,
		maxConnections:   maxConnections,
		maxAcquireTries:  maxAcquireTries,
		acquireBaseDelay: defaultAcquireBaseDelay,
		logger:           logger,
		metrics:          metrics,
		sleep:            sleepWithContext,
	}, nil
}

// Acquire hands exclusive ownership of one connection to the caller.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if conn, created, err := p.tryAcquire(); err != nil {
		return nil, err
	} else if created || conn != nil {
		return conn, nil
	}

	// All connections exist and none is idle: wait for a return with
	// linear backoff before degrading to over-allocation.
	for attempt := 1; attempt <= p.maxAcquireTries; attempt++ {
		if err := p.sleep(ctx, time.Duration(attempt)*p.acquireBaseDelay); err != nil {
			return nil, err
		}

		if conn := p.popIdle(); conn != nil {
			return conn, nil
		}
	}

	p.logger.Warn("relay pool exhausted, creating connection over the limit",
		zap.Int("maxConnections", p.maxConnections),
		zap.Int("acquireRetries", p.maxAcquireTries),
	)
	p.metrics.IncRelayDegradedAcquire()

	return p.createCounted()
}

// Release returns ownership of a connection to the pool. Connections held
// while the pool is over capacity are closed instead of re-queued until the
// live count is back under the limit.
func (p *Pool) Release(conn Conn) {
	if p == nil || conn == nil {
		return
	}

	p.mu.Lock()
	if p.live > p.maxConnections {
		p.live--
		p.publishGauges()
		p.mu.Unlock()

		if err := conn.Close(); err != nil {
			p.logger.Warn("failed to close over-limit relay connection", zap.Error(err))
		}
		return
	}

	p.idle = append(p.idle, conn)
	p.publishGauges()
	p.mu.Unlock()
}

// Discard drops a connection the caller deems broken beyond repair. The
// slot it occupied becomes available for a fresh connection.
func (p *Pool) Discard(conn Conn) {
	if p == nil || conn == nil {
		return
	}

	p.mu.Lock()
	if p.live > 0 {
		p.live--
	}
	p.publishGauges()
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		p.logger.Warn("failed to close discarded relay connection", zap.Error(err))
	}
}

// Close disposes every idle connection. Checked-out connections are closed
// by their holders through Release or Discard.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	if p.live < 0 {
		p.live = 0
	}
	p.publishGauges()
	p.mu.Unlock()

	var firstErr error
	for _, conn := range idle {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// tryAcquire creates a new connection while the pool is under the limit
// (fast path, no borrowing); at the limit it pops an idle connection.
// Returns (nil, false, nil) when the caller must wait.
func (p *Pool) tryAcquire() (Conn, bool, error) {
	p.mu.Lock()

	if p.live < p.maxConnections {
		p.live++
		p.publishGauges()
		p.mu.Unlock()

		conn, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.live--
			p.publishGauges()
			p.mu.Unlock()
			return nil, false, fmt.Errorf("failed to create relay connection: %w", err)
		}
		return conn, true, nil
	}

	if n := len(p.idle); n > 0 {
		conn := p.idle[0]
		p.idle = p.idle[1:]
		p.publishGauges()
		p.mu.Unlock()
		return conn, false, nil
	}

	p.mu.Unlock()
	return nil, false, nil
}

func (p *Pool) popIdle() Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) == 0 {
		return nil
	}

	conn := p.idle[0]
	p.idle = p.idle[1:]
	p.publishGauges()
	return conn
}

func (p *Pool) createCounted() (Conn, error) {
	p.mu.Lock()
	p.live++
	p.publishGauges()
	p.mu.Unlock()

	conn, err := p.factory()
	if err != nil {
		p.mu.Lock()
		p.live--
		p.publishGauges()
		p.mu.Unlock()
		return nil, fmt.Errorf("failed to create relay connection: %w", err)
	}
	return conn, nil
}

// publishGauges must be called with p.mu held.
func (p *Pool) publishGauges() {
	p.metrics.SetRelayConnections(p.live, len(p.idle))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
