package nntpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

func TestBreakerGuardedConnectPassesThroughSuccess(t *testing.T) {
	want := &Connection{host: "news.example"}
	b := newBreakerGuardedConnect(
		NewCircuitBreakerSettings("t", 1, time.Minute, time.Second),
		func(ctx context.Context) (*Connection, error) { return want, nil },
	)

	got, err := b.connect(context.Background())
	require.NoError(t, err)
	require.Same(t, want, got)
	require.Equal(t, gobreaker.StateClosed, b.state())
}

func TestBreakerGuardedConnectTripsOnRepeatedFailure(t *testing.T) {
	failWith := errors.New("dial failed")
	b := newBreakerGuardedConnect(
		NewCircuitBreakerSettings("t", 1, time.Minute, time.Minute),
		func(ctx context.Context) (*Connection, error) { return nil, failWith },
	)

	for i := 0; i < 3; i++ {
		_, err := b.connect(context.Background())
		require.Error(t, err)
	}

	require.Equal(t, gobreaker.StateOpen, b.state())

	_, err := b.connect(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, failWith) // open breaker short-circuits before calling the constructor
}
