package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one refresh cycle run by a [Scheduler]. The context is cancelled
// when the scheduler stops.
type Task func(ctx context.Context)

// Scheduler runs a [Task] immediately on start and then on a fixed interval.
//
// Runs never overlap: the next tick is only observed after the current run
// returns. A panicking task is recovered and logged with a correlation ID;
// the schedule continues.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	name     string
	interval time.Duration
	task     Task
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	doneOnce sync.Once
	runs     int
}

// NewScheduler creates a [Scheduler] for task. The name only appears in logs.
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop].
func NewScheduler(name string, interval time.Duration, task Task, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the schedule in a background goroutine.
//
// Start is non-blocking. The task runs once immediately, then every interval,
// until [Scheduler.Stop] is called or ctx is cancelled. If ctx is nil,
// context.Background() is used. Start is idempotent; calling it after Stop
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.doneOnce.Do(func() { close(s.done) })

		s.runSafe(runCtx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				// a tick can race with cancellation; cancellation wins
				if runCtx.Err() != nil {
					return
				}
				s.runSafe(runCtx)
			}
		}
	}()
}

// Stop halts the schedule and waits for an in-flight run to return.
//
// Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.doneOnce.Do(func() { close(s.done) })
}

// Done returns a channel that is closed once the schedule has ended, either
// through Stop or through cancellation of the start context.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Runs reports how many times the task has been started.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// runSafe calls the task with panic recovery.
func (s *Scheduler) runSafe(ctx context.Context) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panic",
				"scheduler", s.name,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.task(ctx)
}
