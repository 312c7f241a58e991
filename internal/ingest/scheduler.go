package ingest

import (
	"context"
	"log"
)

// Scheduler runs a unit of work off the caller's goroutine (spec §9
// "background scheduling": "enqueue a unit of work that runs off-request"
// so a production deployment can later swap in a durable queue without
// touching Pipeline).
type Scheduler interface {
	Enqueue(ctx context.Context, fn func(context.Context))
}

// GoroutineScheduler runs enqueued work on a bounded pool of goroutines,
// descended from the teacher's in-process background-task dispatch.
type GoroutineScheduler struct {
	work chan scheduledTask
}

type scheduledTask struct {
	ctx context.Context
	fn  func(context.Context)
}

// NewGoroutineScheduler starts workers goroutines draining a work queue.
// Tasks submitted once all workers are busy queue in-memory, up to 64
// pending tasks; there is no persistence across process restarts (spec §9: a durable queue can
// replace this implementation without touching Pipeline).
func NewGoroutineScheduler(workers int) *GoroutineScheduler {
	if workers <= 0 {
		workers = 1
	}

	s := &GoroutineScheduler{work: make(chan scheduledTask, 64)}
	for i := 0; i < workers; i++ {
		go s.loop()
	}
	return s
}

func (s *GoroutineScheduler) loop() {
	for task := range s.work {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("ingest: scheduled task panicked: %v", r)
				}
			}()
			task.fn(task.ctx)
		}()
	}
}

// Enqueue schedules fn to run on a worker goroutine. It returns once fn is
// queued, without waiting for fn to complete; when 64 tasks are already
// pending it blocks until a worker takes one. fn observes ctx for
// cancellation.
func (s *GoroutineScheduler) Enqueue(ctx context.Context, fn func(context.Context)) {
	s.work <- scheduledTask{ctx: ctx, fn: fn}
}

var _ Scheduler = (*GoroutineScheduler)(nil)
