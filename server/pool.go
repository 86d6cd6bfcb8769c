package server

import (
	"context"
	"fmt"
	"sync"
)

// job is a unit of work executed on a pool goroutine.
type job struct {
	fn   func() (interface{}, error)
	done chan jobResult
}

type jobResult struct {
	value interface{}
	err   error
}

// Pool runs jobs on a fixed number of goroutines. Every run builds its own
// machine, so the pool only bounds how many execute at once.
type Pool struct {
	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	stop sync.Once
}

// NewPool creates a Pool and starts its workers.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- execute(j.fn)
		case <-p.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func execute(fn func() (interface{}, error)) (result jobResult) {
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("panic: %v", r)
		}
	}()
	result.value, result.err = fn()
	return result
}

// Do submits fn and blocks until it completes or ctx ends while waiting for
// a free worker. fn itself is expected to honor ctx.
func (p *Pool) Do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	j := job{fn: fn, done: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, fmt.Errorf("pool stopped")
	}
	r := <-j.done
	return r.value, r.err
}

// Stop shuts down the workers and waits for running jobs to finish.
func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.quit) })
	p.wg.Wait()
}
