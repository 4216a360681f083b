package updater

import "sync"

// keyMutex serializes execution per target key. Different keys proceed in
// parallel, work for one key never overlaps.
type keyMutex struct {
	lock  sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: map[string]*keyLock{}}
}

// Lock blocks until the key is free and returns the matching unlock
// function.
func (k *keyMutex) Lock(key string) (unlock func()) {
	k.lock.Lock()
	entry, exist := k.locks[key]
	if !exist {
		entry = &keyLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.lock.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.lock.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.lock.Unlock()
	}
}
