// Package asyncjob provides a minimal single-shot background job
// abstraction: start a closure on a shared pool, then poll it from the
// owner goroutine until it reports done.
package asyncjob

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/skyatlas/hipscore/tile"
)

// Fn is the work a Job runs on the shared pool. It returns the decoded
// payload, its true cost, any discovered flags, and an error.
type Fn func() (payload any, cost int64, flags tile.Flags, err error)

// Pool runs jobs on goroutines admitted through a semaphore, so a burst
// of traversal-driven loads cannot spawn unbounded goroutines. The
// caller never blocks: Start always returns a Job immediately, and the
// goroutine is spawned in the background to acquire its slot.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool that runs at most maxConcurrent jobs at once.
func NewPool(maxConcurrent int64) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pool{sem: semaphore.NewWeighted(maxConcurrent)}
}

// DefaultPool is shared by loaders that don't need an isolated pool.
var DefaultPool = NewPool(8)

var _ tile.Loader = (*Job)(nil)

// Job is a single in-flight (or completed) unit of work. The owning
// tile entry holds the poll-handle; the pool holds a strong reference
// to the job's closure until it completes.
type Job struct {
	done    atomic.Bool
	payload any
	cost    int64
	flags   tile.Flags
	err     error
}

// Start schedules fn to run on the pool and returns a poll-handle
// immediately; it never blocks the caller.
func (p *Pool) Start(fn Fn) *Job {
	j := &Job{}
	go func() {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			j.err = err
			j.done.Store(true)
			return
		}
		defer p.sem.Release(1)

		payload, cost, flags, err := fn()
		j.payload, j.cost, j.flags, j.err = payload, cost, flags, err
		j.done.Store(true)
	}()
	return j
}

// Poll reports whether the job has completed. Safe to call repeatedly
// and after completion (idempotent). Cancellation is not supported;
// jobs always run to completion once started.
func (j *Job) Poll() bool {
	return j.done.Load()
}

// Result returns the job's outcome. Only meaningful once Poll reports
// true; returns the zero value before that.
func (j *Job) Result() (payload any, cost int64, flags tile.Flags, err error) {
	return j.payload, j.cost, j.flags, j.err
}

// Job carries no mutex: its fields are written once, from the pool
// goroutine, strictly before the atomic done flag is set, and read only
// after Poll observes that flag.
