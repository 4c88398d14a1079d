package service

import "sync"

// keyedMutex hands out one mutex per resource id so concurrent mutations of
// the same order, session or branch serialize while unrelated resources
// proceed in parallel. Entries are kept for the process lifetime; the key
// space (active orders and sessions) is small.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
