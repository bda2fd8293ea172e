package keyedmutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLockSerializesSameKey(t *testing.T) {
	var m Map
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("n1")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, m.Len())
}

func TestLockDoesNotBlockOtherKeys(t *testing.T) {
	var m Map
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestLockGrantsInArrivalOrder(t *testing.T) {
	var m Map
	unlock := m.Lock("k")

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			u := m.Lock("k")
			order <- i
			u()
		}(i)
		// Let each goroutine enqueue before starting the next.
		assert.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return len(m.locks["k"].waiters) == i+1
		}, time.Second, time.Millisecond)
	}

	unlock()
	assert.Equal(t, 0, <-order)
	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}

func TestUnlockIsIdempotent(t *testing.T) {
	var m Map
	unlock := m.Lock("k")
	unlock()
	unlock()
	assert.Zero(t, m.Len())
}
