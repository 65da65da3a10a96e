package graph

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// writerWeight is the number of semaphore units a writer takes. It bounds the
// number of concurrent readers.
const writerWeight = 1 << 30

// RWLock is a reader/writer lock whose waits can be cancelled through a
// context. Readers take one unit of a weighted semaphore and a writer takes
// all of them. The semaphore serves waiters in FIFO order, so a pending
// writer holds back readers that arrive after it.
//
// RWLock is not reentrant.
type RWLock struct {
	sem *semaphore.Weighted
}

var _ schemas.RWLocker = (*RWLock)(nil)

func NewRWLock() *RWLock {
	return &RWLock{sem: semaphore.NewWeighted(writerWeight)}
}

// RLock blocks until a read slot is free or ctx is done.
func (l *RWLock) RLock(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire read lock: %w", err)
	}
	return nil
}

func (l *RWLock) RUnlock() { l.sem.Release(1) }

// Lock blocks until no reader or writer holds the lock, or ctx is done.
func (l *RWLock) Lock(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, writerWeight); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	return nil
}

func (l *RWLock) Unlock() { l.sem.Release(writerWeight) }
