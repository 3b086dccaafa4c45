package scheduler

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

func TestScheduler_RunNowPassesBoundedContext(t *testing.T) {
	s := New(time.Minute, zerolog.Nop())
	defer s.Stop()

	var deadline bool
	err := s.RunNow(JobFunc{JobName: "probe", Fn: func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return errors.New("boom")
	}})

	assert.EqualError(t, err, "boom")
	assert.True(t, deadline)
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(0, zerolog.Nop())
	defer s.Stop()

	err := s.AddJob("not a schedule", JobFunc{JobName: "x", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestScheduler_RunsScheduledJobs(t *testing.T) {
	s := New(0, zerolog.Nop())

	var runs atomic.Int32
	require.NoError(t, s.AddJob("@every 1s", JobFunc{JobName: "tick", Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	s.Start()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	s := New(0, zerolog.Nop())
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.RunNow(JobFunc{JobName: "slow", Fn: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}})
	}()
	<-started
	s.Stop()

	assert.ErrorIs(t, <-done, context.Canceled)
}
