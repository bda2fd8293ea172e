// Package keyedmutex provides per-key mutual exclusion. Waiters for the same
// key acquire the lock in arrival order; distinct keys never contend.
package keyedmutex

import "sync"

type entry struct {
	waiters []chan struct{}
}

// Map is a set of FIFO locks indexed by key. The zero value is ready to use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// Lock blocks until the lock for key is held and returns the function that
// releases it.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*entry)
	}

	e, held := m.locks[key]
	if !held {
		m.locks[key] = &entry{}
		m.mu.Unlock()
		return m.releaser(key)
	}

	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	m.mu.Unlock()

	<-ch
	return m.releaser(key)
}

func (m *Map) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(key) })
	}
}

// release hands the lock to the oldest waiter or forgets the key.
func (m *Map) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.locks[key]
	if len(e.waiters) == 0 {
		delete(m.locks, key)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	close(next)
}

// Len reports how many keys are currently locked.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
