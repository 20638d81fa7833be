package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sched := NewScheduler(f.svc, 10*time.Millisecond, logger)
	assert.False(t, sched.Running())

	sched.Start(context.Background())
	assert.True(t, sched.Running())

	// Starting twice is harmless.
	sched.Start(context.Background())

	sched.Stop()
	assert.False(t, sched.Running())

	// Stopping twice is harmless.
	sched.Stop()
}

func TestSchedulerDispatchesOnTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddMessage(ctx, "hello", "09:00", 0, "daily")
	require.NoError(t, err)
	f.clk.Advance(60 * time.Minute)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sched := NewScheduler(f.svc, 5*time.Millisecond, logger)
	sched.Start(ctx)
	defer sched.Stop()

	require.Eventually(t, func() bool {
		return f.pub.callCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	sched := NewScheduler(f.svc, 5*time.Millisecond, logger)
	sched.Start(ctx)

	cancel()
	// The loop exits on its own; Stop must still return promptly.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	// A scheduler around a nil service panics inside the tick; the loop
	// must survive it.
	sched := NewScheduler(nil, 5*time.Millisecond, logger)
	sched.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.True(t, sched.Running())
	sched.Stop()
}
