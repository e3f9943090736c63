package channel

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startScheduler(t *testing.T, s *Scheduler, job Job) {
	t.Helper()
	go func() {
		_ = s.Start(context.Background(), job)
	}()
	t.Cleanup(func() {
		_ = s.Stop()
	})
}

func TestSchedulerFiresArmedJob(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewScheduler()
	startScheduler(t, s, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Arm(time.Now().Add(10 * time.Millisecond))

	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// One arm, one execution.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestSchedulerArmBeforeStart(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewScheduler()
	s.Arm(time.Now().Add(10 * time.Millisecond))

	startScheduler(t, s, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerArmReplacesPendingDeadline(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewScheduler()
	startScheduler(t, s, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	// The far deadline is superseded before it can fire.
	s.Arm(time.Now().Add(time.Hour))
	s.Arm(time.Now().Add(10 * time.Millisecond))

	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestSchedulerRetriesFailedJob(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewScheduler(WithRetryInterval(20 * time.Millisecond))
	startScheduler(t, s, func(context.Context) error {
		if runs.Add(1) == 1 {
			return fmt.Errorf("transient failure")
		}
		return nil
	})

	s.Arm(time.Now().Add(5 * time.Millisecond))

	// First run fails and re-arms; second run succeeds and stays idle.
	require.Eventually(t, func() bool {
		return runs.Load() == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestSchedulerStartValidation(t *testing.T) {
	t.Parallel()

	s := NewScheduler()
	assert.Error(t, s.Start(context.Background(), nil))
}

func TestSchedulerDoubleStart(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewScheduler()
	startScheduler(t, s, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	// A completed job run proves the first loop is registered.
	s.Arm(time.Now().Add(5 * time.Millisecond))
	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, s.Start(context.Background(), func(context.Context) error { return nil }))
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()

	s := NewScheduler()
	assert.NoError(t, s.Stop())
}

func TestSchedulerStopUnblocksPendingDeadline(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewScheduler()
	go func() {
		_ = s.Start(context.Background(), func(context.Context) error {
			runs.Add(1)
			return nil
		})
	}()

	s.Arm(time.Now().Add(time.Hour))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, int32(0), runs.Load())
}
