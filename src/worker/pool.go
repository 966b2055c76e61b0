// Package worker runs slow OS steps off the caller's goroutine.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"framesense/src/logutil"
)

// Task is one unit of work. Its error is handed to the Done callback.
type Task func(ctx context.Context) error

// Done is invoked from a worker goroutine when a task finishes. The owner
// should pass a closure that posts back into its own loop.
type Done func(err error)

// Pool is a fixed-size worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	jobs chan job
	wg   sync.WaitGroup
	once sync.Once
	log  zerolog.Logger
}

type job struct {
	ctx  context.Context
	name string
	task Task
	done Done
}

// New creates a worker pool. Size defaults to 1 when size<=0. Queue is 1 slot.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{jobs: make(chan job, 1), log: logutil.Component("worker")}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.log.Debug().Str("task", j.name).Msg("task started")
				err := run(j)
				p.log.Debug().Str("task", j.name).Err(err).Msg("task finished")
				if j.done != nil {
					j.done(err)
				}
			}
		}()
	}
}

func run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v", j.name, r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.task(j.ctx)
}

// Submit enqueues a task if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, name string, task Task, done Done) bool {
	select {
	case p.jobs <- job{ctx: ctx, name: name, task: task, done: done}:
		return true
	default:
		p.log.Debug().Str("task", name).Msg("queue full, task dropped")
		return false
	}
}

// Close stops the pool after draining current work. Safe to call twice.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
