// Package parallel provides a fork-join parallel-for over a fixed set of
// persistent worker goroutines.
package parallel

import (
	"fmt"
	"runtime"
	"sync"
)

type task struct {
	fn     func(start, end int)
	rs, re int
	done   chan any
}

// Pool runs range tasks on persistent workers. A Pool must not be used from
// inside one of its own tasks.
type Pool struct {
	size      int
	tasks     chan task
	doneSlots chan chan any
	closeOnce sync.Once
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// Default returns the process-wide pool sized to GOMAXPROCS.
func Default() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool(0)
	})
	return defaultPool
}

// NewPool starts a pool with the given number of workers. workers <= 0 means
// GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		size:      workers,
		tasks:     make(chan task, workers*2),
		doneSlots: make(chan chan any, workers),
	}
	for i := 0; i < workers; i++ {
		p.doneSlots <- make(chan any, workers)
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for t := range p.tasks {
		t.done <- run(t)
	}
}

func run(t task) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	t.fn(t.rs, t.re)
	return nil
}

// Size is the number of workers.
func (p *Pool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

// For splits [0,n) into contiguous chunks, runs fn on each chunk in parallel
// and returns once every chunk has finished. Chunks never overlap, so fn may
// write to disjoint slices of shared buffers without locking. A panic in any
// chunk is re-raised here after the barrier.
//
// A nil pool runs fn(0, n) on the calling goroutine.
func (p *Pool) For(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := p.Size()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	done := <-p.doneSlots
	defer func() { p.doneSlots <- done }()

	active := 0
	for i := 0; i < workers; i++ {
		rs := i * chunk
		re := min(rs+chunk, n)
		if rs >= re {
			break
		}
		active++
		p.tasks <- task{fn: fn, rs: rs, re: re, done: done}
	}

	var failure any
	for i := 0; i < active; i++ {
		if r := <-done; r != nil && failure == nil {
			failure = r
		}
	}
	if failure != nil {
		panic(fmt.Sprintf("parallel: worker panic: %v", failure))
	}
}

// Close stops the workers. The Default pool should not be closed.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
}
