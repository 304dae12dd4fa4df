package parking

import "sync"

// lotLocks serializes reconciliation per lot. Entries are dropped once no
// goroutine holds or waits for them.
type lotLocks struct {
	mu    sync.Mutex
	locks map[string]*lotLock
}

type lotLock struct {
	mu   sync.Mutex
	refs int
}

func newLotLocks() *lotLocks {
	return &lotLocks{locks: make(map[string]*lotLock)}
}

// lock acquires the lock for lotID and returns its release function.
func (l *lotLocks) lock(lotID string) func() {
	l.mu.Lock()
	ll, ok := l.locks[lotID]
	if !ok {
		ll = &lotLock{}
		l.locks[lotID] = ll
	}
	ll.refs++
	l.mu.Unlock()

	ll.mu.Lock()
	return func() {
		ll.mu.Unlock()

		l.mu.Lock()
		ll.refs--
		if ll.refs == 0 {
			delete(l.locks, lotID)
		}
		l.mu.Unlock()
	}
}

func (l *lotLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
