// Package routines provides a bounded pool of go-routines.
package routines

import (
	"sync"
)

// Pool runs queued functions in a fixed number of go-routines.
type Pool struct {
	queue chan func()
	wg    sync.WaitGroup

	lock   sync.Mutex
	closed bool
}

// NewPool starts workers go-routines that run queued functions.
func NewPool(workers int) *Pool {
	if workers < 1 {
		panic("workers must be >=1")
	}

	p := Pool{
		queue: make(chan func(), workers),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return &p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for fn := range p.queue {
		fn()
	}
}

// Queue schedules fn to run in one of the go-routines of the pool.
// If all go-routines are busy, Queue blocks until one is available.
// Calling Queue after Wait panics.
func (p *Pool) Queue(fn func()) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		panic("Queue called after Wait")
	}

	p.queue <- fn
}

// Wait waits until all queued functions finished and terminates the
// go-routines of the pool.
func (p *Pool) Wait() {
	p.lock.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.lock.Unlock()

	p.wg.Wait()
}
