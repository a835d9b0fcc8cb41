package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rentbill/backend/internal/domain/shared"
)

// InMemoryLocker serializes work per key inside one process.
type InMemoryLocker struct {
	mu      sync.Mutex
	slots   map[string]*lockSlot
	maxWait time.Duration
}

type lockSlot struct {
	ch      chan struct{}
	waiters int
}

// NewInMemoryLocker creates a locker. maxWait bounds how long Acquire waits;
// zero waits until ctx is done.
func NewInMemoryLocker(maxWait time.Duration) *InMemoryLocker {
	return &InMemoryLocker{
		slots:   make(map[string]*lockSlot),
		maxWait: maxWait,
	}
}

// Acquire blocks until key is free
func (l *InMemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	slot := l.join(key)

	var timeout <-chan time.Time
	if l.maxWait > 0 {
		timer := time.NewTimer(l.maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				l.leave(key, slot)
			})
		}, nil
	case <-ctx.Done():
		l.leave(key, slot)
		return nil, ctx.Err()
	case <-timeout:
		l.leave(key, slot)
		return nil, shared.NewDomainError(shared.CodeUnavailable, fmt.Sprintf("lock %s is busy", key))
	}
}

func (l *InMemoryLocker) join(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.waiters++
	return slot
}

func (l *InMemoryLocker) leave(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.waiters--
	if slot.waiters == 0 {
		delete(l.slots, key)
	}
}

// Held returns the number of keys currently locked or waited on
func (l *InMemoryLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

var _ shared.Locker = (*InMemoryLocker)(nil)
