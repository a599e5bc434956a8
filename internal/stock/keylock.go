package stock

import (
	"context"
	"sync"
)

// keyLocks hands out one mutual-exclusion slot per key. Entries are dropped
// once no goroutine holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[Key]*keyLock)}
}

// acquire blocks until key is free or ctx is done. The returned func releases
// the slot and must be called exactly once.
func (l *keyLocks) acquire(ctx context.Context, key Key) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				l.forget(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.forget(key, entry)
		return nil, ctx.Err()
	}
}

func (l *keyLocks) forget(key Key, entry *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
