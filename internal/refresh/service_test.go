package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodicRunsOnStartAndTick(t *testing.T) {
	var runs atomic.Int32
	p := NewPeriodic("test", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	}, zerolog.Nop())
	assert.Equal(t, "test", p.String())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}

func TestSupervisorRunsServices(t *testing.T) {
	var runs atomic.Int32
	p := NewPeriodic("counter", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}, zerolog.Nop())

	sup := NewSupervisor(DefaultSupervisorConfig(), zerolog.Nop(), p)
	ctx, cancel := context.WithCancel(t.Context())
	errCh := sup.ServeBackground(ctx)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
