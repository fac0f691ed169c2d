package service

import "sync"

// KeyedMutex serializes work per ticket id: all lifecycle transitions and
// chat posts for one ticket run one at a time, in arrival order, while
// different tickets proceed in parallel.
type KeyedMutex struct {
	locks sync.Map
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	entry, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := entry.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
