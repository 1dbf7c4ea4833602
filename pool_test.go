package nntpclient

import (
	"container/heap"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// acceptWelcomeOnly runs a minimal fake server that only ever sends the
// welcome line on each accepted connection and then idles until the client
// disconnects — enough for pool tests that exercise leasing, not protocol
// exchanges.
func acceptWelcomeOnly(t *testing.T) (string, int) {
	return startFakeServer(t, func(t *testing.T, c net.Conn) {
		f := wrapFakeConn(t, c)
		f.sendLine("200 server ready")
		for {
			if f.readCommand() == "" {
				return
			}
		}
	})
}

func newTestPool(t *testing.T, maxConns int) *Pool {
	t.Helper()
	host, port := acceptWelcomeOnly(t)
	pool, err := NewPool(context.Background(), Config{
		Host:                host,
		Port:                port,
		MaxConnections:      maxConns,
		KeepaliveIntervalMs: Int64(0),
		IdleGracePeriodMs:   Int64(0),
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestPoolAcquireRelease(t *testing.T) {
	pool := newTestPool(t, 1)

	err := pool.WithClient(context.Background(), 0, func(ctx context.Context, conn *Connection) error {
		require.NotNil(t, conn)
		return nil
	})
	require.NoError(t, err)

	pool.mu.Lock()
	idle := len(pool.idleClients)
	pool.mu.Unlock()
	require.Equal(t, 1, idle)
}

func TestPoolConservesConnectionsAcrossConcurrentUse(t *testing.T) {
	pool := newTestPool(t, 3)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.WithClient(context.Background(), 0, func(ctx context.Context, conn *Connection) error {
				return nil
			})
		}()
	}
	wg.Wait()

	pool.mu.Lock()
	idle := len(pool.idleClients)
	pool.mu.Unlock()
	require.Equal(t, 3, idle)
}

func TestPoolPriorityOrderingAndFIFO(t *testing.T) {
	pool := newTestPool(t, 1)

	holdRelease := make(chan struct{})
	holderDone := make(chan struct{})
	go func() {
		defer close(holderDone)
		_ = pool.WithClient(context.Background(), 0, func(ctx context.Context, conn *Connection) error {
			<-holdRelease
			return nil
		})
	}()

	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.idleClients) == 0
	})

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	enqueue := func(label string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.WithClient(context.Background(), priority, func(ctx context.Context, conn *Connection) error {
				mu.Lock()
				order = append(order, label)
				mu.Unlock()
				return nil
			})
		}()
	}

	// low, then high, then a second low at equal priority to the first —
	// FIFO among equals means "low-a" must precede "low-b".
	enqueue("low-a", 1)
	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.waiters.Len() == 1
	})
	enqueue("high", 5)
	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.waiters.Len() == 2
	})
	enqueue("low-b", 1)
	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.waiters.Len() == 3
	})

	close(holdRelease)
	<-holderDone
	wg.Wait()

	require.Equal(t, []string{"high", "low-a", "low-b"}, order)
}

func TestPoolCancelledWaiterReturnsConnection(t *testing.T) {
	pool := newTestPool(t, 1)

	holdRelease := make(chan struct{})
	go func() {
		_ = pool.WithClient(context.Background(), 0, func(ctx context.Context, conn *Connection) error {
			<-holdRelease
			return nil
		})
	}()

	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.idleClients) == 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		waiterDone <- pool.WithClient(ctx, 0, func(ctx context.Context, conn *Connection) error {
			return nil
		})
	}()

	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.waiters.Len() == 1
	})

	cancel()
	select {
	case err := <-waiterDone:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	close(holdRelease)

	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.idleClients) == 1
	})
}

func TestPoolCloseFailsQueuedWaiters(t *testing.T) {
	pool := newTestPool(t, 1)

	holdRelease := make(chan struct{})
	go func() {
		_ = pool.WithClient(context.Background(), 0, func(ctx context.Context, conn *Connection) error {
			<-holdRelease
			return nil
		})
	}()

	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.idleClients) == 0
	})

	waiterDone := make(chan error, 1)
	go func() {
		waiterDone <- pool.WithClient(context.Background(), 0, func(ctx context.Context, conn *Connection) error {
			return nil
		})
	}()

	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.waiters.Len() == 1
	})

	require.NoError(t, pool.Close())

	select {
	case err := <-waiterDone:
		require.ErrorIs(t, err, PoolErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not failed by Close")
	}

	close(holdRelease)
}

// acceptCountingHandshakes runs a minimal fake server that answers DATE
// probes and counts how many connections it has accepted, so tests can
// observe a reconnect as a second fresh handshake.
func acceptCountingHandshakes(t *testing.T, connCount *atomic.Int32) (string, int) {
	return startFakeServer(t, func(t *testing.T, c net.Conn) {
		connCount.Add(1)
		f := wrapFakeConn(t, c)
		f.sendLine("200 server ready")
		for {
			cmd := f.readCommand()
			if cmd == "" {
				return
			}
			if cmd == "DATE" {
				f.sendLine("111 20260806000000")
			}
		}
	})
}

func TestPoolSleepWakeIdempotent(t *testing.T) {
	var connCount atomic.Int32
	host, port := acceptCountingHandshakes(t, &connCount)

	pool, err := NewPool(context.Background(), Config{
		Host:                host,
		Port:                port,
		MaxConnections:      2,
		KeepaliveIntervalMs: Int64(0),
		IdleGracePeriodMs:   Int64(0),
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	waitUntil(t, func() bool { return connCount.Load() == 2 })

	pool.Sleep()
	pool.Sleep() // idempotent: second call must not panic or double-close

	pool.mu.Lock()
	require.True(t, pool.sleeping)
	require.Empty(t, pool.idleClients)
	pool.mu.Unlock()

	pool.Wake(context.Background())
	pool.Wake(context.Background()) // idempotent: second call must not re-dial

	waitUntil(t, func() bool { return connCount.Load() == 4 })

	pool.mu.Lock()
	require.False(t, pool.sleeping)
	require.Len(t, pool.idleClients, 2)
	pool.mu.Unlock()

	// Give any stray extra dial a moment to show up before asserting the
	// count stayed exactly at 4 (one fresh connection per slot, once).
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(4), connCount.Load())
}

func TestPoolAutoSleepAndAutoWake(t *testing.T) {
	var connCount atomic.Int32
	host, port := acceptCountingHandshakes(t, &connCount)

	pool, err := NewPool(context.Background(), Config{
		Host:                host,
		Port:                port,
		MaxConnections:      1,
		KeepaliveIntervalMs: Int64(20),
		IdleGracePeriodMs:   Int64(50),
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	waitUntil(t, func() bool { return connCount.Load() == 1 })

	// No activity for longer than the idle grace period: the keepalive
	// loop puts the pool to sleep on its own.
	waitUntil(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.sleeping
	})

	// The next acquisition auto-wakes the pool (spec's "Auto-wake"),
	// dialing a fresh connection and producing a second handshake.
	err = pool.WithClient(context.Background(), 0, func(ctx context.Context, conn *Connection) error {
		require.NotNil(t, conn)
		return nil
	})
	require.NoError(t, err)

	waitUntil(t, func() bool { return connCount.Load() == 2 })

	pool.mu.Lock()
	asleep := pool.sleeping
	pool.mu.Unlock()
	require.False(t, asleep)
}

func TestWaiterHeapOrdering(t *testing.T) {
	h := &waiterHeap{}
	heap.Push(h, &waiter{priority: 1, sequence: 0})
	heap.Push(h, &waiter{priority: 5, sequence: 1})
	heap.Push(h, &waiter{priority: 1, sequence: 2})

	first := heap.Pop(h).(*waiter)
	require.Equal(t, 5, first.priority)

	second := heap.Pop(h).(*waiter)
	require.Equal(t, uint64(0), second.sequence)

	third := heap.Pop(h).(*waiter)
	require.Equal(t, uint64(2), third.sequence)
}
