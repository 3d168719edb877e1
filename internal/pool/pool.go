package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrAcquireTimeout is returned when no handle frees up within the
	// configured wait. Fatal to the request, not to the process.
	ErrAcquireTimeout = errors.New("pool: acquire timed out")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("pool: closed")
)

// Handle is a persistence handle checked out of the pool. It must be
// released exactly once and never shared between callers.
type Handle struct {
	db *gorm.DB
}

// DB exposes the underlying gorm session bound to this handle.
func (h *Handle) DB() *gorm.DB {
	return h.db
}

// Pool is a fixed-size collection of pre-established persistence
// handles. Callers block on an empty pool and are woken on release.
// It is the only shared mutable in-process structure; everything else
// goes through store transactions.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*Handle
	total   int
	timeout time.Duration
	closed  bool
}

// New builds a pool of size pre-established handles over db. Each
// handle carries its own gorm session so per-handle state never leaks
// across callers.
func New(db *gorm.DB, size int, acquireTimeout time.Duration) *Pool {
	p := &Pool{
		idle:    make([]*Handle, 0, size),
		total:   size,
		timeout: acquireTimeout,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		p.idle = append(p.idle, &Handle{db: db.Session(&gorm.Session{NewDB: true})})
	}
	return p
}

// Acquire blocks until a handle is free, the context is cancelled, or
// the pool timeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	deadline := time.Now().Add(p.timeout)

	// Wake the cond wait when the deadline or the context expires;
	// sync.Cond has no timed wait of its own. The broadcast takes the
	// mutex so it cannot fire between a waiter's deadline check and its
	// park, where the one-shot wakeup would be lost.
	timerCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	stop := context.AfterFunc(timerCtx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil, ErrClosed
		}
		if n := len(p.idle); n > 0 {
			h := p.idle[n-1]
			p.idle = p.idle[:n-1]
			return h, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrAcquireTimeout
		}
		p.cond.Wait() // releases p.mu while blocked
	}
}

// Release returns a handle to the pool and wakes one waiter. Releasing
// after Close is a no-op.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if len(p.idle) >= p.total {
		panic("pool: release of a handle that was never acquired")
	}
	p.idle = append(p.idle, h)
	p.cond.Signal()
}

// With runs fn with an acquired handle, releasing it on every path.
// This is the scoped acquisition pattern all components use.
func (p *Pool) With(ctx context.Context, fn func(db *gorm.DB) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(h)
	return fn(h.db.WithContext(ctx))
}

// Close marks the pool closed and wakes all waiters. In-flight holders
// finish their work; their releases are discarded.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.idle = nil
	p.cond.Broadcast()
}
