package graph_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

func newLockable(t *testing.T, opts ...graph.Option) *graph.Lockable {
	t.Helper()
	opts = append([]graph.Option{graph.WithLogger(zaptest.NewLogger(t))}, opts...)
	l := graph.NewLockable(graph.NewSimpleGraph(), opts...)
	t.Cleanup(l.Close)
	return l
}

// TestLockable_ProducerConsumer runs balanced producers and consumers on one
// (subject, predicate, *) pattern and expects the graph to end empty.
func TestLockable_ProducerConsumer(t *testing.T) {
	for _, workers := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			l := newLockable(t)
			ctx := context.Background()
			const perWorker = 200

			g, ctx := errgroup.WithContext(ctx)
			for w := 0; w < workers; w++ {
				g.Go(func() error {
					for i := 0; i < perWorker; i++ {
						obj := schemas.NewLiteral(fmt.Sprintf("%d-%d", w, i))
						if _, err := l.Add(schemas.NewTriple(alice, knows, obj)); err != nil {
							return err
						}
					}
					return nil
				})
				g.Go(func() error {
					removed := 0
					for removed < perWorker {
						err := l.Update(ctx, func(inner schemas.Graph) error {
							for tr := range inner.Filter(alice, knows, nil) {
								ok, err := inner.Remove(tr)
								if err != nil {
									return err
								}
								if ok {
									removed++
								}
								return nil
							}
							return nil
						})
						if err != nil {
							return err
						}
						runtime.Gosched()
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			assert.Equal(t, 0, l.Size())
		})
	}
}

func TestLockable_LockWaitIsCancellable(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := graph.NewLockable(graph.NewSimpleGraph())
	defer l.Close()

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = l.Update(context.Background(), func(schemas.Graph) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.View(ctx, func(schemas.Graph) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, l.View(context.Background(), func(schemas.Graph) error { return nil }))
}

func TestLockable_ReadersShareTheLock(t *testing.T) {
	l := newLockable(t)
	ctx := context.Background()

	inFirst := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = l.View(ctx, func(schemas.Graph) error {
			close(inFirst)
			<-done
			return nil
		})
	}()
	<-inFirst

	// A second reader gets in while the first still holds the lock.
	require.NoError(t, l.View(ctx, func(schemas.Graph) error { return nil }))
	close(done)
}

func TestLockable_UpdateReleasesOnPanic(t *testing.T) {
	l := newLockable(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = l.Update(ctx, func(g schemas.Graph) error {
			_, _ = g.Add(schemas.NewTriple(alice, knows, bob))
			panic("boom")
		})
	})

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, l.Update(ctx, func(schemas.Graph) error { return nil }), "lock must be free after a panic")
	assert.Equal(t, 1, l.Size())
}

func TestLockable_UpdateReturnsFnError(t *testing.T) {
	l := newLockable(t)
	sentinel := errors.New("nope")
	err := l.Update(context.Background(), func(schemas.Graph) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestLockable_EventsInCommitOrder(t *testing.T) {
	l := newLockable(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []schemas.Event
	batches := make(chan struct{}, 16)
	l.Subscribe(schemas.ListenerFunc(func(ev []schemas.Event) {
		mu.Lock()
		got = append(got, ev...)
		mu.Unlock()
		batches <- struct{}{}
	}), schemas.Pattern{Subject: alice}, 0)

	_, err := l.Add(schemas.NewTriple(alice, knows, bob))
	require.NoError(t, err)
	_, err = l.Add(schemas.NewTriple(bob, knows, alice)) // filtered out
	require.NoError(t, err)
	_, err = l.Add(schemas.NewTriple(alice, knows, bob)) // no-op, no event
	require.NoError(t, err)
	require.NoError(t, l.Update(ctx, func(g schemas.Graph) error {
		_, err := g.Add(schemas.NewTriple(alice, knows, carol))
		return err
	}))
	require.NoError(t, l.Clear())

	for i := 0; i < 3; i++ {
		select {
		case <-batches:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d batches", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)
	assert.Equal(t, schemas.EventAdd, got[0].Type)
	assert.Equal(t, bob, got[0].Triple.Object)
	assert.Equal(t, schemas.EventAdd, got[1].Type)
	assert.Equal(t, carol, got[1].Triple.Object)
	assert.Equal(t, schemas.EventRemove, got[2].Type)
	assert.Equal(t, schemas.EventRemove, got[3].Type)
}

func TestWriteBlocked(t *testing.T) {
	l := newLockable(t)
	_, err := l.Add(schemas.NewTriple(alice, knows, bob))
	require.NoError(t, err)

	wb := graph.NewWriteBlocked(l)
	assert.True(t, wb.ReadOnly())
	assert.Equal(t, 1, wb.Size())
	assert.True(t, wb.Contains(schemas.NewTriple(alice, knows, bob)))
	assert.Len(t, graph.Collect(wb.Filter(alice, "", nil)), 1)

	_, err = wb.Add(schemas.NewTriple(bob, knows, carol))
	assert.ErrorIs(t, err, schemas.ErrReadOnly)
	_, err = wb.Remove(schemas.NewTriple(alice, knows, bob))
	assert.ErrorIs(t, err, schemas.ErrReadOnly)
	assert.ErrorIs(t, wb.Clear(), schemas.ErrReadOnly)
	assert.ErrorIs(t, wb.Update(context.Background(), func(schemas.Graph) error { return nil }), schemas.ErrReadOnly)
	assert.ErrorIs(t, wb.Lock().Lock(context.Background()), schemas.ErrReadOnly)

	err = wb.View(context.Background(), func(g schemas.Graph) error {
		_, err := g.Add(schemas.NewTriple(bob, knows, carol))
		return err
	})
	assert.ErrorIs(t, err, schemas.ErrReadOnly)
	assert.Equal(t, 1, l.Size())

	// Changes through the writable graph remain visible.
	_, err = l.Add(schemas.NewTriple(bob, knows, carol))
	require.NoError(t, err)
	assert.Equal(t, 2, wb.Size())
}

func TestTrackedLock_Holders(t *testing.T) {
	lock := graph.NewTrackedLock(nil, zaptest.NewLogger(t))
	l := newLockable(t, graph.WithLock(lock))
	ctx := context.Background()

	err := l.View(ctx, func(schemas.Graph) error {
		holders := lock.Holders()
		require.Len(t, holders, 1)
		assert.Equal(t, graph.ModeRead, holders[0].Mode)
		assert.NotZero(t, holders[0].GoroutineID)
		assert.Contains(t, holders[0].Stack, "goroutine")
		return nil
	})
	require.NoError(t, err)

	err = l.Update(ctx, func(schemas.Graph) error {
		holders := lock.Holders()
		require.Len(t, holders, 1)
		assert.Equal(t, graph.ModeWrite, holders[0].Mode)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, lock.Holders())
}

func TestTrackedLock_AbandonedWait(t *testing.T) {
	lock := graph.NewTrackedLock(graph.NewRWLock(), zaptest.NewLogger(t))
	require.NoError(t, lock.RLock(context.Background()))
	defer lock.RUnlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, lock.Lock(ctx), context.Canceled)
	assert.Len(t, lock.Holders(), 1)
}
