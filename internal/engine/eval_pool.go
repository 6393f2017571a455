package engine

import (
	"sync"
)

// evalPool bounds how many permission evaluations run at once. Slots are
// acquired up front, so Go blocks once the pool is saturated instead of
// queueing unbounded work.
type evalPool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func newEvalPool(size int) *evalPool {
	if size <= 0 {
		size = 16
	}
	return &evalPool{slots: make(chan struct{}, size)}
}

// Go runs fn on its own goroutine once a slot frees up
func (p *evalPool) Go(fn func()) {
	p.slots <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		fn()
	}()
}

// Close waits for every in-flight evaluation to finish
func (p *evalPool) Close() {
	p.wg.Wait()
}

// Size returns the concurrency bound
func (p *evalPool) Size() int {
	return cap(p.slots)
}
