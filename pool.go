package nntpclient

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skjaere/go-nntp-client/internal/coarsetime"
	"github.com/sony/gobreaker/v2"
)

// waiter is a parked acquisition request, ordered by priority then by
// arrival order (spec §4.6 "Priority ordering").
type waiter struct {
	priority int
	sequence uint64
	done     chan *Connection
}

// waiterHeap is a container/heap.Interface over *waiter: higher priority
// sorts first, and among equal priorities lower sequence (earlier arrival)
// sorts first.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].sequence < h[j].sequence
}

func (h waiterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *waiterHeap) Push(x any) { *h = append(*h, x.(*waiter)) }

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Pool is a priority connection pool for a single NNTP server: callers
// lease a *Connection via WithClient, optionally with a priority, and the
// pool serves higher-priority waiters first. It runs a background
// keepalive loop that probes idle connections and can put itself to sleep
// after a period of inactivity, waking on the next lease attempt.
type Pool struct {
	config Config

	mu             sync.Mutex
	idleClients    []*Connection
	waiters        waiterHeap
	waiterSequence uint64
	closed         bool
	sleeping       bool

	lastActivityMs atomic.Int64

	keepaliveCancel context.CancelFunc
	keepaliveDone   chan struct{}

	breaker *breakerGuardedConnect
	stats   *poolStatsCollector
}

// NewPool validates config, builds max_connections connections concurrently,
// and starts the keepalive loop (spec §4.6 "connect").
func NewPool(ctx context.Context, config Config) (*Pool, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		config: config,
		stats:  newPoolStatsCollector(),
	}
	p.breaker = newBreakerGuardedConnect(
		NewCircuitBreakerSettings(config.addr(), 3, time.Minute, 10*time.Second),
		p.dial,
	)
	p.lastActivityMs.Store(coarsetime.Now().UnixMilli())

	conns, err := p.connectAll(ctx)
	if err != nil {
		return nil, err
	}
	p.idleClients = conns
	for range conns {
		p.stats.recordIdle()
	}

	p.startKeepalive()
	return p, nil
}

// dial builds one fresh, authenticated Connection. It is the constructor
// wrapped by the pool's circuit breaker.
func (p *Pool) dial(ctx context.Context) (*Connection, error) {
	conn, err := NewConnection(ctx, p.config.Host, p.config.Port, p.config.UseTLS)
	if err != nil {
		return nil, err
	}
	if p.config.Username != "" {
		if err := conn.Authinfo(ctx, p.config.Username, p.config.Password); err != nil {
			conn.Close()
			return nil, err
		}
	}
	conn.reconnectFn = p.reconnectViaBreaker
	return conn, nil
}

// reconnectViaBreaker builds a replacement connection through the pool's
// circuit breaker, so repeated dial/AUTHINFO failures on background
// reconnects trip the same breaker as bulk connect/wake. It is installed as
// every pool-owned Connection's reconnectFn, so this is the single choke
// point every scheduleReconnect call — wherever it is triggered from —
// passes through.
func (p *Pool) reconnectViaBreaker(ctx context.Context) (*Connection, error) {
	p.stats.recordReconnect()
	return p.breaker.connect(ctx)
}

// connectAll builds config.MaxConnections connections concurrently, per
// spec §4.6's "connect" operation.
func (p *Pool) connectAll(ctx context.Context) ([]*Connection, error) {
	n := int(p.config.MaxConnections)
	conns := make([]*Connection, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := p.breaker.connect(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			p.stats.recordCreate()
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			for _, c := range conns {
				if c != nil {
					c.Close()
				}
			}
			return nil, err
		}
	}
	return conns, nil
}

// WithClient leases a connection at the given priority, runs block with it,
// and returns it to the pool on every exit path. A ConnectionError from
// block is retried once against a fresh acquisition (spec §4.6
// "Retry-on-failure").
func (p *Pool) WithClient(ctx context.Context, priority int, block func(ctx context.Context, conn *Connection) error) error {
	p.touchActivity(ctx)

	conn, err := p.acquire(ctx, priority)
	if err != nil {
		return err
	}

	err = block(ctx, conn)
	if err == nil {
		p.release(conn)
		return nil
	}
	if !IsConnectionError(err) {
		p.release(conn)
		return err
	}

	conn.scheduleReconnect()
	p.release(conn)

	conn2, acqErr := p.acquire(ctx, priority)
	if acqErr != nil {
		return err
	}
	if waitErr := conn2.ensureConnected(ctx); waitErr != nil {
		p.release(conn2)
		return waitErr
	}

	err2 := block(ctx, conn2)
	p.release(conn2)
	return err2
}

// touchActivity records the current time as the pool's last-activity
// timestamp and, if the pool is sleeping, wakes it (spec §4.6 "Auto-wake").
func (p *Pool) touchActivity(ctx context.Context) {
	p.lastActivityMs.Store(coarsetime.Now().UnixMilli())

	p.mu.Lock()
	asleep := p.sleeping
	p.mu.Unlock()
	if asleep {
		p.Wake(ctx)
	}
}

// acquire implements spec §4.6's "Acquisition": serve from idle if
// available, otherwise enqueue a waiter and await its completion, removing
// it from the queue on cancellation.
func (p *Pool) acquire(ctx context.Context, priority int) (*Connection, error) {
	p.stats.recordAcquire()
	start := coarsetime.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, PoolErrClosed
	}
	if n := len(p.idleClients); n > 0 {
		conn := p.idleClients[0]
		p.idleClients = p.idleClients[1:]
		p.mu.Unlock()
		p.stats.recordLease()
		return conn, nil
	}

	w := &waiter{priority: priority, sequence: p.waiterSequence, done: make(chan *Connection, 1)}
	p.waiterSequence++
	heap.Push(&p.waiters, w)
	p.mu.Unlock()

	select {
	case conn := <-w.done:
		if conn == nil {
			p.stats.recordAcquireError()
			return nil, PoolErrClosed
		}
		p.stats.recordAcquireWait(coarsetime.Now().Sub(start))
		p.stats.recordLease()
		return conn, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.removeWaiter(w)
		p.mu.Unlock()
		// A connection may have raced onto w.done between the select and
		// the lock acquisition above; if so, return it to the pool.
		select {
		case conn := <-w.done:
			if conn != nil {
				p.release(conn)
			}
		default:
		}
		p.stats.recordAcquireError()
		return nil, ctx.Err()
	}
}

func (p *Pool) removeWaiter(target *waiter) {
	for i, w := range p.waiters {
		if w == target {
			heap.Remove(&p.waiters, i)
			return
		}
	}
}

// release implements spec §4.6's "Release / dispatch": not cancellable —
// the connection is either handed to a waiter or parked idle, never lost.
func (p *Pool) release(conn *Connection) {
	p.stats.recordIdle()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		conn.Close()
		return
	}

	for p.waiters.Len() > 0 {
		w := heap.Pop(&p.waiters).(*waiter)
		select {
		case w.done <- conn:
			return
		default:
			// w was already satisfied/cancelled concurrently; try the next.
			continue
		}
	}
	p.idleClients = append(p.idleClients, conn)
}

// startKeepalive launches the background probe loop described by spec
// §4.6's "Keepalive loop", unless keepalive_interval_ms is zero.
func (p *Pool) startKeepalive() {
	if p.config.keepaliveInterval() == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.keepaliveCancel = cancel
	p.keepaliveDone = make(chan struct{})

	go func() {
		defer close(p.keepaliveDone)
		ticker := time.NewTicker(p.config.keepaliveInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.keepaliveTick(ctx)
			}
		}
	}()
}

func (p *Pool) keepaliveTick(ctx context.Context) {
	p.mu.Lock()
	if p.sleeping || p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	grace := p.config.idleGracePeriod()
	if grace > 0 {
		lastMs := p.lastActivityMs.Load()
		if coarsetime.Now().UnixMilli()-lastMs > grace.Milliseconds() {
			p.Sleep()
			return
		}
	}

	p.mu.Lock()
	idle := p.idleClients
	p.idleClients = nil
	p.mu.Unlock()

	for _, conn := range idle {
		if err := p.probe(ctx, conn); err != nil {
			slog.Warn("nntp: keepalive probe failed, reconnecting", "error", err)
			conn.scheduleReconnect()
		}
		p.release(conn)
	}
}

func (p *Pool) probe(ctx context.Context, conn *Connection) error {
	_, err := conn.command(ctx, "DATE")
	return err
}

// Sleep implements spec §4.6's "Sleep": idempotent, stops keepalive probing
// of idle connections by draining and closing them. Leased connections are
// untouched; one returned while the pool sleeps is parked idle and closed
// by the next Wake.
func (p *Pool) Sleep() {
	p.mu.Lock()
	if p.sleeping || p.closed {
		p.mu.Unlock()
		return
	}
	p.sleeping = true
	idle := p.idleClients
	p.idleClients = nil
	p.mu.Unlock()

	p.stats.setSleeping(true)
	for _, conn := range idle {
		conn.Close()
		p.stats.recordDestroy()
	}
}

// Wake implements spec §4.6's "Wake": idempotent, reconstructs
// max_connections fresh connections and resumes keepalive.
func (p *Pool) Wake(ctx context.Context) {
	p.mu.Lock()
	if !p.sleeping || p.closed {
		p.mu.Unlock()
		return
	}
	stale := p.idleClients
	p.idleClients = nil
	p.sleeping = false
	p.mu.Unlock()

	for _, conn := range stale {
		conn.Close()
	}

	conns, err := p.connectAll(ctx)
	if err != nil {
		slog.Error("nntp: wake failed to reconnect pool", "error", err)
		p.mu.Lock()
		p.sleeping = true
		p.mu.Unlock()
		p.stats.setSleeping(true)
		return
	}

	p.mu.Lock()
	p.idleClients = append(p.idleClients, conns...)
	p.mu.Unlock()
	for range conns {
		p.stats.recordIdle()
	}

	p.lastActivityMs.Store(coarsetime.Now().UnixMilli())
	p.stats.setSleeping(false)
	if p.keepaliveCancel == nil {
		p.startKeepalive()
	}
}

// Close implements spec §4.6's "Close": fails all queued waiters with
// PoolErrClosed, closes idle connections, and stops the keepalive loop.
// Leased connections are closed when they are next returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idleClients
	p.idleClients = nil
	waiting := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	if p.keepaliveCancel != nil {
		p.keepaliveCancel()
		<-p.keepaliveDone
	}

	for _, w := range waiting {
		select {
		case w.done <- nil:
		default:
		}
	}

	var firstErr error
	for _, conn := range idle {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.stats.recordDestroy()
	}
	return firstErr
}

// Stats returns a snapshot of the pool's counters (spec §4.6 introspection,
// grounded on the teacher's PoolStats/ServerPoolStats).
func (p *Pool) Stats() PoolStats {
	return p.stats.snapshot()
}

// BreakerState reports the current state of the pool's reconnect circuit
// breaker.
func (p *Pool) BreakerState() gobreaker.State {
	return p.breaker.state()
}

// BreakerCounts reports the current failure/success counts backing the
// pool's reconnect circuit breaker.
func (p *Pool) BreakerCounts() gobreaker.Counts {
	return p.breaker.counts()
}
