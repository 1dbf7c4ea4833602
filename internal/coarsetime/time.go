// Package coarsetime provides a coarse time implementation to reduce the
// overhead of frequent time.Now() calls. It updates the current time at a
// fixed interval (50ms) in a background goroutine.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const tick = 50 * time.Millisecond

var now atomic.Value

func init() {
	now.Store(time.Now())

	t := time.NewTicker(tick)
	go func() {
		for range t.C {
			now.Store(time.Now())
		}
	}()
}

// Now returns the coarse current time, accurate to within one tick.
func Now() time.Time {
	return now.Load().(time.Time)
}
