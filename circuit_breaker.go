package nntpclient

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerSettings returns gobreaker settings tuned for a
// connect-and-authenticate attempt: it trips after a run of mostly-failing
// attempts, not on an isolated blip.
func NewCircuitBreakerSettings(name string, maxRequests uint32, interval, timeout time.Duration) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
}

// breakerGuardedConnect wraps a pool's connection constructor with a circuit
// breaker: repeated dial/AUTHINFO failures while the pool grows or
// reconnects trip the breaker, short-circuiting further dial attempts until
// its cooldown elapses. This is additive — nothing in the pool's core
// acquisition or dispatch logic depends on it being present.
type breakerGuardedConnect struct {
	breaker     *gobreaker.CircuitBreaker[*Connection]
	constructor func(ctx context.Context) (*Connection, error)
}

func newBreakerGuardedConnect(settings gobreaker.Settings, constructor func(ctx context.Context) (*Connection, error)) *breakerGuardedConnect {
	return &breakerGuardedConnect{
		breaker:     gobreaker.NewCircuitBreaker[*Connection](settings),
		constructor: constructor,
	}
}

func (b *breakerGuardedConnect) connect(ctx context.Context) (*Connection, error) {
	return b.breaker.Execute(func() (*Connection, error) {
		return b.constructor(ctx)
	})
}

func (b *breakerGuardedConnect) state() gobreaker.State {
	return b.breaker.State()
}

func (b *breakerGuardedConnect) counts() gobreaker.Counts {
	return b.breaker.Counts()
}
