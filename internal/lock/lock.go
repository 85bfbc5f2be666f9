// Package lock serializes read-modify-write cycles per key.
package lock

import (
	"context"
	"sync"
)

// Well-known keys. Acquire in the order owner, ticket, allocator.
const AllocatorKey = "allocator"

// OwnerKey serializes ticket creation for one user.
func OwnerKey(ownerID string) string { return "owner:" + ownerID }

// TicketKey serializes mutations of one ticket.
func TicketKey(ticketID string) string { return "ticket:" + ticketID }

// Unlock releases a held key. Calling it more than once is a no-op.
type Unlock func()

// KeyedLocker hands out mutual exclusion per key.
type KeyedLocker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
	// TryLock acquires key only if it is free right now.
	TryLock(ctx context.Context, key string) (Unlock, bool, error)
}

type memoryEntry struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is an in-process KeyedLocker. Entries are dropped once no
// goroutine holds or waits on them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryEntry
}

// NewMemoryLocker builds an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*memoryEntry)}
}

func (l *MemoryLocker) acquireEntry(key string) *memoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.locks[key]
	if e == nil {
		e = &memoryEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *MemoryLocker) releaseEntry(key string, e *memoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *MemoryLocker) unlocker(key string, e *memoryEntry) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.releaseEntry(key, e)
		})
	}
}

// Lock implements KeyedLocker.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	e := l.acquireEntry(key)
	select {
	case e.ch <- struct{}{}:
		return l.unlocker(key, e), nil
	case <-ctx.Done():
		l.releaseEntry(key, e)
		return nil, ctx.Err()
	}
}

// TryLock implements KeyedLocker.
func (l *MemoryLocker) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	e := l.acquireEntry(key)
	select {
	case e.ch <- struct{}{}:
		return l.unlocker(key, e), true, nil
	default:
		l.releaseEntry(key, e)
		return nil, false, nil
	}
}

// held reports how many keys currently have holders or waiters.
func (l *MemoryLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
