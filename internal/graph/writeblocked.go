package graph

import (
	"context"
	"iter"
	"time"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// WriteBlocked is a read-through view of a lockable graph for callers that may
// read but not write it. Reads and subscriptions reach the underlying graph;
// every mutator fails with schemas.ErrReadOnly.
type WriteBlocked struct {
	inner schemas.LockableGraph
}

var _ schemas.LockableGraph = (*WriteBlocked)(nil)

func NewWriteBlocked(inner schemas.LockableGraph) *WriteBlocked {
	return &WriteBlocked{inner: inner}
}

func (w *WriteBlocked) Filter(s schemas.BlankNodeOrIRI, p schemas.IRI, o schemas.Term) iter.Seq[schemas.Triple] {
	return w.inner.Filter(s, p, o)
}

func (w *WriteBlocked) Contains(t schemas.Triple) bool { return w.inner.Contains(t) }
func (w *WriteBlocked) Size() int                      { return w.inner.Size() }
func (w *WriteBlocked) Freeze() schemas.Graph          { return w.inner.Freeze() }
func (w *WriteBlocked) ReadOnly() bool                 { return true }

func (w *WriteBlocked) Add(schemas.Triple) (bool, error)    { return false, schemas.ErrReadOnly }
func (w *WriteBlocked) Remove(schemas.Triple) (bool, error) { return false, schemas.ErrReadOnly }
func (w *WriteBlocked) Clear() error                        { return schemas.ErrReadOnly }

// View hands fn a read-only view so the write block also holds inside it.
func (w *WriteBlocked) View(ctx context.Context, fn func(g schemas.Graph) error) error {
	return w.inner.View(ctx, func(g schemas.Graph) error {
		return fn(readOnlyGraph{g})
	})
}

func (w *WriteBlocked) Update(context.Context, func(g schemas.Graph) error) error {
	return schemas.ErrReadOnly
}

// Lock exposes only the read side of the underlying lock.
func (w *WriteBlocked) Lock() schemas.RWLocker { return readOnlyLock{w.inner.Lock()} }

func (w *WriteBlocked) Subscribe(l schemas.Listener, p schemas.Pattern, delay time.Duration) string {
	return w.inner.Subscribe(l, p, delay)
}

func (w *WriteBlocked) Unsubscribe(id string) { w.inner.Unsubscribe(id) }

type readOnlyGraph struct {
	schemas.Graph
}

func (readOnlyGraph) Add(schemas.Triple) (bool, error)    { return false, schemas.ErrReadOnly }
func (readOnlyGraph) Remove(schemas.Triple) (bool, error) { return false, schemas.ErrReadOnly }
func (readOnlyGraph) Clear() error                        { return schemas.ErrReadOnly }
func (readOnlyGraph) ReadOnly() bool                      { return true }

type readOnlyLock struct {
	schemas.RWLocker
}

func (readOnlyLock) Lock(context.Context) error { return schemas.ErrReadOnly }
func (readOnlyLock) Unlock()                    {}
