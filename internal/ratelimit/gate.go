package ratelimit

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// Token is a granted provider request slot. It must be released exactly once;
// extra releases are ignored.
type Token struct {
	tenantID string
	priority int
	tg       *tenantGate
	released atomic.Bool
}

// TenantID returns the tenant the token was granted to.
func (t *Token) TenantID() string { return t.tenantID }

// Priority returns the priority the token was requested with.
func (t *Token) Priority() int { return t.priority }

// GateStats is a snapshot of one tenant's gate.
type GateStats struct {
	InFlight        int
	Waiting         int
	TokensAvailable float64
}

// Gate admits provider requests per tenant. Each tenant gets its own token
// bucket and its own bounded concurrency slot pool; waiters for a slot are
// served lowest priority number first, FIFO within a priority. Tenants never
// wait on each other.
type Gate struct {
	cfg GateConfig

	mu        sync.Mutex
	tenants   map[string]*tenantGate
	overrides map[string]GateConfig
}

// NewGate creates a gate applying cfg to every tenant.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{
		cfg:       cfg.normalized(),
		tenants:   make(map[string]*tenantGate),
		overrides: make(map[string]GateConfig),
	}
}

// SetTenantConfig overrides the envelope for one tenant. It takes effect for
// the tenant's next bucket creation, so call it before the tenant's first Acquire.
func (g *Gate) SetTenantConfig(tenantID string, cfg GateConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrides[tenantID] = cfg.normalized()
}

// Acquire blocks until the tenant has a free concurrency slot and a rate
// token, or ctx ends. Lower priority numbers are served first.
func (g *Gate) Acquire(ctx context.Context, tenantID string, priority int) (*Token, error) {
	tg := g.tenant(tenantID)

	if err := tg.acquireSlot(ctx, priority); err != nil {
		return nil, errors.Wrapf(err, "waiting for provider slot for tenant %s", tenantID)
	}

	if err := tg.bucket.Wait(ctx); err != nil {
		tg.releaseSlot()
		return nil, errors.Wrapf(err, "waiting for provider rate token for tenant %s", tenantID)
	}

	return &Token{tenantID: tenantID, priority: priority, tg: tg}, nil
}

// Release returns the token's slot to its tenant.
func (g *Gate) Release(tok *Token) {
	if tok == nil || tok.released.Swap(true) {
		return
	}
	tok.tg.releaseSlot()
}

// Stats reports the current state of a tenant's gate.
func (g *Gate) Stats(tenantID string) GateStats {
	tg := g.tenant(tenantID)

	tg.mu.Lock()
	defer tg.mu.Unlock()
	return GateStats{
		InFlight:        tg.inFlight,
		Waiting:         tg.waiters.Len(),
		TokensAvailable: tg.bucket.Tokens(),
	}
}

func (g *Gate) tenant(tenantID string) *tenantGate {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tg, ok := g.tenants[tenantID]; ok {
		return tg
	}

	cfg := g.cfg
	if o, ok := g.overrides[tenantID]; ok {
		cfg = o
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	tg := &tenantGate{
		bucket: rate.NewLimiter(limit, cfg.Burst),
		max:    cfg.MaxConcurrent,
	}
	g.tenants[tenantID] = tg
	return tg
}

type tenantGate struct {
	bucket *rate.Limiter

	mu       sync.Mutex
	inFlight int
	max      int
	waiters  waiterQueue
	seq      uint64
}

func (tg *tenantGate) acquireSlot(ctx context.Context, priority int) error {
	tg.mu.Lock()
	if tg.inFlight < tg.max && tg.waiters.Len() == 0 {
		tg.inFlight++
		tg.mu.Unlock()
		return nil
	}

	w := &waiter{priority: priority, seq: tg.seq, ready: make(chan struct{})}
	tg.seq++
	heap.Push(&tg.waiters, w)
	tg.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		tg.mu.Lock()
		if w.granted {
			tg.mu.Unlock()
			tg.releaseSlot()
			return ctx.Err()
		}
		heap.Remove(&tg.waiters, w.index)
		tg.mu.Unlock()
		return ctx.Err()
	}
}

func (tg *tenantGate) releaseSlot() {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	tg.inFlight--
	for tg.inFlight < tg.max && tg.waiters.Len() > 0 {
		w := heap.Pop(&tg.waiters).(*waiter)
		w.granted = true
		tg.inFlight++
		close(w.ready)
	}
}

type waiter struct {
	priority int
	seq      uint64
	index    int
	granted  bool
	ready    chan struct{}
}

// waiterQueue is a min-heap on (priority, seq).
type waiterQueue []*waiter

func (q waiterQueue) Len() int { return len(q) }

func (q waiterQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waiterQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waiterQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waiterQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}
