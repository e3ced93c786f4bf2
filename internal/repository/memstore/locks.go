// Package memstore implements the repository interfaces in process memory.
// Updates of one record are serialized by a per-key mutex; different records
// never contend on the same lock while their update function runs.
package memstore

import "sync"

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key. An entry lives only while someone
// holds or waits for it, so caller-chosen keys do not accumulate.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size is the number of live entries.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
