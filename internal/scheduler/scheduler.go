// Package scheduler provides cancellable periodic tasks for the streaming
// pipeline. Every timer that drives the pipeline (speech-detection tick,
// frame-capture tick) is created through a [Scheduler] so that teardown can
// stop all of them deterministically — no orphaned ticker may fire into a
// torn-down session.
package scheduler

import (
	"sync"
	"time"
)

// Task is a handle to one running periodic task. Stop is idempotent and
// returns only after the task goroutine has exited, so a callback can never
// run after Stop returns.
type Task struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Stop cancels the task and waits for its goroutine to exit.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

// Scheduler owns a set of periodic tasks. The zero value is ready to use.
// All methods are safe for concurrent use.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task
}

// Every starts fn on a fixed interval. The first invocation happens one full
// interval after the call, matching ticker semantics. The returned Task is
// also tracked by the scheduler and stopped by [Scheduler.StopAll].
func (s *Scheduler) Every(interval time.Duration, fn func()) *Task {
	t := &Task{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return t
}

// StopAll stops every task started through this scheduler and waits for all
// of their goroutines to exit. Tasks already stopped individually are
// skipped harmlessly.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}
