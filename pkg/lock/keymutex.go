package lock

import (
	"context"
	"sync"
)

type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyMutex creates an in-process locker that serializes callers per key.
// Suitable for single-process deployments and tests; multi-process
// deployments should use the Redis locker.
func NewKeyMutex() Locker {
	return &keyMutex{locks: make(map[string]*entry)}
}

func (k *keyMutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := k.acquire(key)
	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		k.put(key, e)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

func (k *keyMutex) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *keyMutex) put(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
