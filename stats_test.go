package nntpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolStatsCollectorLeaseIdleRoundTrip(t *testing.T) {
	c := newPoolStatsCollector()

	c.recordCreate()
	c.recordCreate()
	c.recordIdle()
	c.recordIdle()

	s := c.snapshot()
	require.Equal(t, int32(2), s.TotalConns)
	require.Equal(t, int32(2), s.IdleConns)
	require.Equal(t, int32(0), s.ActiveConns)

	c.recordLease()
	s = c.snapshot()
	require.Equal(t, int32(1), s.IdleConns)
	require.Equal(t, int32(1), s.ActiveConns)

	c.recordDestroy()
	s = c.snapshot()
	require.Equal(t, int32(1), s.TotalConns)
	require.Equal(t, uint64(1), s.DestroyedConns)
}

func TestPoolStatsCollectorAcquireWaitAndErrors(t *testing.T) {
	c := newPoolStatsCollector()

	c.recordAcquire()
	c.recordAcquireWait(50 * time.Millisecond)
	c.recordAcquireError()
	c.recordReconnect()

	s := c.snapshot()
	require.Equal(t, uint64(1), s.AcquireCount)
	require.Equal(t, uint64(1), s.AcquireWaitCount)
	require.Equal(t, uint64((50 * time.Millisecond).Nanoseconds()), s.AcquireWaitTimeNs)
	require.Equal(t, uint64(1), s.AcquireErrors)
	require.Equal(t, uint64(1), s.ReconnectCount)
}

func TestPoolStatsCollectorSleeping(t *testing.T) {
	c := newPoolStatsCollector()
	require.Equal(t, int32(0), c.snapshot().Sleeping)

	c.setSleeping(true)
	require.Equal(t, int32(1), c.snapshot().Sleeping)

	c.setSleeping(false)
	require.Equal(t, int32(0), c.snapshot().Sleeping)
}
