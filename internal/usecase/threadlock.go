package usecase

import (
	"context"
	"sync"
)

// threadLocks serializes work per thread id. Entries are dropped once no
// caller holds or waits for them.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*threadLock)}
}

// lock blocks until threadID is free or ctx is done. The returned func
// releases the lock and must be called exactly once.
func (l *threadLocks) lock(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{ch: make(chan struct{}, 1)}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
		return func() {
			<-tl.ch
			l.release(threadID, tl)
		}, nil
	case <-ctx.Done():
		l.release(threadID, tl)
		return nil, ctx.Err()
	}
}

func (l *threadLocks) release(threadID string, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, threadID)
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
