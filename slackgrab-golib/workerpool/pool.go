// Package workerpool runs jobs on a fixed number of goroutines.
package workerpool

import (
	"context"
	"sync"

	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
)

// Job is a unit of work; a non-nil error is recorded and returned by Wait.
type Job func() error

// Pool is a fixed-size pool of workers draining an unbounded job list.
type Pool struct {
	ctx    context.Context
	cancel func()

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Job
	active  int
	errs    errors.Errors
	stopped bool

	workers sync.WaitGroup
}

// New creates a pool with n workers.
func New(n int) *Pool {
	return NewWithCtx(context.Background(), n)
}

// NewWithCtx creates a pool whose workers exit once ctx is done.
func NewWithCtx(ctx context.Context, n int) *Pool {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{ctx: ctx, cancel: cancel}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		p.workers.Add(1)
		go p.work()
	}
	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		<-ctx.Done()
		p.mu.Lock()
		p.stopped = true
		p.pending = nil
		p.cond.Broadcast()
		p.mu.Unlock()
	}()
	return p
}

// Add queues jobs. Jobs added after Stop are ignored.
func (p *Pool) Add(jobs []Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.pending = append(p.pending, jobs...)
	p.cond.Broadcast()
}

// Pending returns the number of queued and running jobs.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) + p.active
}

// Wait blocks until all queued jobs are done, or the pool is stopped and
// running jobs have returned. It returns the errors collected so far.
func (p *Pool) Wait() error {
	p.mu.Lock()
	for (len(p.pending) > 0 || p.active > 0) && !(p.stopped && p.active == 0) {
		p.cond.Wait()
	}
	errs := p.errs
	p.errs = nil
	p.mu.Unlock()
	if errs == nil {
		return nil
	}
	return errs
}

// Stop discards queued jobs and lets workers exit once their current job returns.
func (p *Pool) Stop() {
	p.cancel()
}

// StopAndWait stops the pool and waits for every goroutine it started to exit.
func (p *Pool) StopAndWait() {
	p.cancel()
	p.workers.Wait()
}

func (p *Pool) work() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		job := p.pending[0]
		p.pending = p.pending[1:]
		p.active++
		p.mu.Unlock()

		err := run(job)

		p.mu.Lock()
		p.active--
		p.errs = errors.Append(p.errs, err)
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			rollbar.PanicRecovery(r)
			err = errors.Errorf("job panicked: %v", r)
		}
	}()
	return job()
}
