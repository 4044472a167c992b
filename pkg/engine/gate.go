package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// maxGateLimit is the largest limit a gate accepts.
const maxGateLimit = 1 << 16

// Gate bounds how many test jobs hold a platform slot at once.
// Waiters are admitted in FIFO order.
//
// The semaphore is sized to maxGateLimit and the gate holds back the weight
// above its limit, so SetLimit can resize a gate that jobs are holding.
type Gate struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64

	mu       sync.Mutex
	limit    int
	reserved int64
	shrink   *pendingShrink
}

// pendingShrink reserves weight that is still held by jobs.
type pendingShrink struct {
	cancel context.CancelFunc
	done   chan struct{}
	n      int64
	ok     bool
}

// NewGate creates a gate admitting at most limit jobs. Limits below one are raised to one.
func NewGate(limit int) *Gate {
	limit = clampGateLimit(limit)
	g := &Gate{
		sem:      semaphore.NewWeighted(maxGateLimit),
		limit:    limit,
		reserved: maxGateLimit - int64(limit),
	}
	g.sem.TryAcquire(g.reserved)
	return g
}

func clampGateLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxGateLimit {
		return maxGateLimit
	}
	return limit
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// SetLimit resizes the gate. Raising the limit admits waiters at once.
// Lowering it admits no new job until the jobs in flight drop below the new
// limit; jobs already holding a slot keep it.
func (g *Gate) SetLimit(limit int) {
	limit = clampGateLimit(limit)

	g.mu.Lock()
	defer g.mu.Unlock()

	if p := g.shrink; p != nil {
		p.cancel()
		<-p.done
		if p.ok {
			g.reserved += p.n
		}
		g.shrink = nil
	}

	g.limit = limit
	target := maxGateLimit - int64(limit)
	switch {
	case g.reserved > target:
		g.sem.Release(g.reserved - target)
		g.reserved = target
	case g.reserved < target:
		n := target - g.reserved
		if g.sem.TryAcquire(n) {
			g.reserved = target
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		p := &pendingShrink{cancel: cancel, done: make(chan struct{}), n: n}
		g.shrink = p
		go func() {
			defer close(p.done)
			p.ok = g.sem.Acquire(ctx, n) == nil
		}()
	}
}

// Limit returns the gate size.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// InFlight returns the number of slots currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}
