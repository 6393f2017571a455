package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvalPoolRunsEverythingWithinBound(t *testing.T) {
	p := newEvalPool(3)
	assert.Equal(t, 3, p.Size())

	var running, peak, done int32
	for i := 0; i < 20; i++ {
		p.Go(func() {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&done, 1)
		})
	}
	p.Close()

	assert.Equal(t, int32(20), atomic.LoadInt32(&done))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestEvalPoolDefaultSize(t *testing.T) {
	assert.Equal(t, 16, newEvalPool(0).Size())
}
