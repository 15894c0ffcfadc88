// Package locking provides a per-key mutex for entity-scoped critical
// sections.
package locking

import (
	"sync"

	"github.com/google/uuid"
)

// KeyedMutex serializes operations per entity. A heartbeat update and a
// concurrent sweep of the same device must not interleave into a lost update;
// the critical section is scoped per entity, not global.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[uuid.UUID]*entry)}
}

// Lock acquires the lock for key and returns its unlock function. Entries are
// reference counted and removed when the last holder releases.
func (k *KeyedMutex) Lock(key uuid.UUID) func() {
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
