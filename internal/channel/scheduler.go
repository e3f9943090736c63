package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// defaultRetryInterval is how long the scheduler waits before re-running a
// failed job. A hard renewal failure must never leave the system with no
// pending job.
const defaultRetryInterval = time.Minute

// Job is the action executed when the renewal deadline fires.
type Job func(ctx context.Context) error

// Scheduler runs a single timer-driven job on a dedicated background
// goroutine. Arming a new deadline replaces any pending one; the
// replace-before-fire check is atomic with respect to the firing check, so
// arming while a job is due never causes double execution.
type Scheduler struct {
	mu         sync.Mutex
	next       *time.Time
	gen        uint64
	cancelFunc context.CancelFunc
	started    bool

	wake chan struct{}
	done chan struct{}

	retryInterval time.Duration
}

var _ Armer = (*Scheduler)(nil)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRetryInterval sets the delay before re-arming after a failed job.
func WithRetryInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// NewScheduler creates a stopped scheduler. Call Start to begin executing
// armed jobs.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm schedules the job to run at runAt, superseding any pending deadline.
// Safe to call from any goroutine, before or after Start.
func (s *Scheduler) Arm(runAt time.Time) {
	s.mu.Lock()
	t := runAt
	s.next = &t
	s.gen++
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the scheduler loop until the context is cancelled or Stop is
// called. Jobs execute serially on this goroutine, at or after their armed
// deadline, exactly once per arm. A job error is logged and the scheduler
// re-arms itself after the retry interval.
func (s *Scheduler) Start(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.cancelFunc = cancel
	s.mu.Unlock()

	defer func() {
		close(s.done)
		slog.Info("Renewal scheduler shutting down")
	}()

	for {
		s.mu.Lock()
		next := s.next
		gen := s.gen
		s.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if next != nil {
			timer = time.NewTimer(time.Until(*next))
			timerC = timer.C
		}

		select {
		case <-runCtx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-s.wake:
			// A new deadline was armed; re-evaluate.
			if timer != nil {
				timer.Stop()
			}

		case <-timerC:
			s.mu.Lock()
			if s.gen != gen {
				// Superseded by an Arm after the timer was set.
				s.mu.Unlock()
				continue
			}
			s.next = nil
			s.mu.Unlock()

			slog.Debug("Renewal deadline fired", "run_at", *next)
			if err := job(runCtx); err != nil {
				slog.Error("Scheduled job failed, arming retry",
					"error", err,
					"retry_in", s.retryInterval)
				s.Arm(time.Now().Add(s.retryInterval))
			}
		}
	}
}

// Stop cancels the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancelFunc
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	if cancel != nil {
		slog.Info("Stopping renewal scheduler")
		cancel()
		<-s.done
	}
	return nil
}
