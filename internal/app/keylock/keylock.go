// Package keylock serialises multi-step ledger actions per wallet so a post
// racing a harvest or a sacrifice for the same wallet cannot interleave.
// Actions on different wallets proceed independently.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per key, discarding idle entries.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates an empty lock set.
func New() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
