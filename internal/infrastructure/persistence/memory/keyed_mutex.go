package memory

import (
	"context"
	"sync"

	"github.com/lessondrip/coursebot/internal/domain/entitlement"
)

// keyedMutex hands out one lock per user. Entries are reference counted and
// removed once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[entitlement.UserID]*userLock
}

type userLock struct {
	ch   chan struct{} // buffered(1): a token in the channel means "held"
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[entitlement.UserID]*userLock)}
}

func (k *keyedMutex) lock(ctx context.Context, key entitlement.UserID) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &userLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *keyedMutex) release(key entitlement.UserID, l *userLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// size returns the number of live entries.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
