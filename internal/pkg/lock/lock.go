// Package lock provides per-member locking for read-modify-write sequences.
//
// The datastore remains the authority for every invariant; the lock only
// serializes same-key work inside one process so that concurrent handlers
// queue up instead of colliding on row locks and retrying.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLockTimeout is returned when the context ends before the lock is held.
var ErrLockTimeout = errors.New("member lock not acquired")

// Key identifies one member of one guild.
type Key struct {
	GuildID int64
	UserID  int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.GuildID, k.UserID)
}

// entry is a one-slot semaphore with reference counting for cleanup.
type entry struct {
	sem  chan struct{}
	refs int
}

// MemberLock provides per-(guild, user) locking.
// Entries are dropped once no goroutine holds or waits for them.
type MemberLock struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// NewMemberLock creates a new MemberLock instance.
func NewMemberLock() *MemberLock {
	return &MemberLock{entries: make(map[Key]*entry)}
}

// acquire returns the entry for key and registers the caller as a user of it.
func (ml *MemberLock) acquire(key Key) *entry {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	e, ok := ml.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		ml.entries[key] = e
	}
	e.refs++
	return e
}

// release drops the caller's reference and forgets the entry when unused.
func (ml *MemberLock) release(key Key, e *entry) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(ml.entries, key)
	}
}

// Lock blocks until the lock for key is held.
func (ml *MemberLock) Lock(key Key) {
	e := ml.acquire(key)
	e.sem <- struct{}{}
}

// LockContext blocks until the lock for key is held or ctx ends.
func (ml *MemberLock) LockContext(ctx context.Context, key Key) error {
	e := ml.acquire(key)
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		ml.release(key, e)
		return fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
	}
}

// TryLock attempts to acquire the lock without blocking.
func (ml *MemberLock) TryLock(key Key) bool {
	e := ml.acquire(key)
	select {
	case e.sem <- struct{}{}:
		return true
	default:
		ml.release(key, e)
		return false
	}
}

// Unlock releases the lock for key. Unlocking a key that is not held panics,
// as with sync.Mutex.
func (ml *MemberLock) Unlock(key Key) {
	ml.mu.Lock()
	e, ok := ml.entries[key]
	ml.mu.Unlock()
	if !ok {
		panic("lock: unlock of unlocked key " + key.String())
	}

	select {
	case <-e.sem:
	default:
		panic("lock: unlock of unlocked key " + key.String())
	}
	ml.release(key, e)
}

// WithLock executes fn while holding the lock for key.
func (ml *MemberLock) WithLock(ctx context.Context, key Key, fn func() error) error {
	if err := ml.LockContext(ctx, key); err != nil {
		return err
	}
	defer ml.Unlock(key)
	return fn()
}

// Len returns the number of keys currently held or awaited.
func (ml *MemberLock) Len() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.entries)
}
