// Package keylock provides per-key mutual exclusion. Entries are reference
// counted and dropped when the last holder unlocks, so memory tracks the
// number of keys in use rather than every key ever seen.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per key.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is held and returns the matching unlock func.
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
