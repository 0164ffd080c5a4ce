package routines

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestScheduleAndWait(t *testing.T) {
	var workDone [500]int32

	pool := NewPool(5)

	for i := range workDone {
		iPtr := &workDone[i]
		pool.Queue(func() {
			atomic.StoreInt32(iPtr, 1)
		})
	}

	pool.Wait()

	for i := range workDone {
		assert.Equal(t, int32(1), atomic.LoadInt32(&workDone[i]), "work %d not done", i)
	}
}

func TestQueuePanicsAfterWait(t *testing.T) {
	pool := NewPool(1)
	pool.Wait()

	assert.Panics(t, func() {
		pool.Queue(func() {})
	})
}

func TestWaitCanBeCalledMultipleTimes(t *testing.T) {
	pool := NewPool(10)
	pool.Wait()
	assert.NotPanics(t, pool.Wait)
}

func TestQueueBlocksWhenAllWorkersAreBusy(t *testing.T) {
	pool := NewPool(1)
	defer pool.Wait()

	release := make(chan struct{})
	var running atomic.Int32

	// 1 function is running, 1 is buffered in the queue
	for i := 0; i < 2; i++ {
		pool.Queue(func() {
			running.Add(1)
			<-release
			running.Add(-1)
		})
	}

	queued := make(chan struct{})
	go func() {
		pool.Queue(func() {})
		close(queued)
	}()

	select {
	case <-queued:
		t.Fatal("Queue returned while all workers were busy and the queue was full")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-queued
	assert.LessOrEqual(t, running.Load(), int32(1))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
