package graph

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/notify"
)

// Lockable guards a mutable graph with a reader/writer lock and publishes every
// committed change to its subscribers.
type Lockable struct {
	inner      schemas.Graph
	lock       schemas.RWLocker
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
}

var _ schemas.LockableGraph = (*Lockable)(nil)

// Option configures a Lockable.
type Option func(*Lockable)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Lockable) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLock replaces the default RWLock, e.g. with a TrackedLock.
func WithLock(lock schemas.RWLocker) Option {
	return func(l *Lockable) {
		if lock != nil {
			l.lock = lock
		}
	}
}

// NewLockable wraps inner, which must be mutable and must not be mutated
// except through the returned Lockable.
func NewLockable(inner schemas.Graph, opts ...Option) *Lockable {
	l := &Lockable{
		inner:  inner,
		lock:   NewRWLock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("lockable_graph")
	l.dispatcher = notify.NewDispatcher(l.logger)
	return l
}

// Filter holds the read lock for as long as the caller ranges over the result.
func (l *Lockable) Filter(s schemas.BlankNodeOrIRI, p schemas.IRI, o schemas.Term) iter.Seq[schemas.Triple] {
	return func(yield func(schemas.Triple) bool) {
		if err := l.lock.RLock(context.Background()); err != nil {
			return
		}
		defer l.lock.RUnlock()
		for t := range l.inner.Filter(s, p, o) {
			if !yield(t) {
				return
			}
		}
	}
}

func (l *Lockable) Contains(t schemas.Triple) bool {
	var ok bool
	_ = l.View(context.Background(), func(g schemas.Graph) error {
		ok = g.Contains(t)
		return nil
	})
	return ok
}

func (l *Lockable) Size() int {
	var n int
	_ = l.View(context.Background(), func(g schemas.Graph) error {
		n = g.Size()
		return nil
	})
	return n
}

func (l *Lockable) Add(t schemas.Triple) (bool, error) {
	var added bool
	err := l.Update(context.Background(), func(g schemas.Graph) error {
		var err error
		added, err = g.Add(t)
		return err
	})
	return added, err
}

func (l *Lockable) Remove(t schemas.Triple) (bool, error) {
	var removed bool
	err := l.Update(context.Background(), func(g schemas.Graph) error {
		var err error
		removed, err = g.Remove(t)
		return err
	})
	return removed, err
}

func (l *Lockable) Clear() error {
	return l.Update(context.Background(), func(g schemas.Graph) error {
		return g.Clear()
	})
}

// Freeze takes a snapshot under the read lock.
func (l *Lockable) Freeze() schemas.Graph {
	var frozen schemas.Graph
	_ = l.View(context.Background(), func(g schemas.Graph) error {
		frozen = g.Freeze()
		return nil
	})
	return frozen
}

func (l *Lockable) ReadOnly() bool { return false }

func (l *Lockable) View(ctx context.Context, fn func(g schemas.Graph) error) error {
	if err := l.lock.RLock(ctx); err != nil {
		return err
	}
	defer l.lock.RUnlock()
	return fn(l.inner)
}

// Update runs fn under the write lock. The events recorded while fn runs are
// published before the lock is released, including when fn fails or panics
// after a partial change.
func (l *Lockable) Update(ctx context.Context, fn func(g schemas.Graph) error) error {
	if err := l.lock.Lock(ctx); err != nil {
		return err
	}
	rec := &recordingGraph{Graph: l.inner}
	defer func() {
		l.dispatcher.Publish(rec.events)
		l.lock.Unlock()
	}()
	return fn(rec)
}

func (l *Lockable) Lock() schemas.RWLocker { return l.lock }

func (l *Lockable) Subscribe(listener schemas.Listener, p schemas.Pattern, delay time.Duration) string {
	return l.dispatcher.Subscribe(listener, p, delay)
}

func (l *Lockable) Unsubscribe(id string) { l.dispatcher.Unsubscribe(id) }

// Close stops the delivery goroutines of all subscriptions. The graph stays
// usable but no further events are delivered.
func (l *Lockable) Close() { l.dispatcher.Close() }

// Inner returns the wrapped graph. Callers must hold the lock while using it.
func (l *Lockable) Inner() schemas.Graph { return l.inner }

// recordingGraph collects the effective changes made through it.
type recordingGraph struct {
	schemas.Graph
	events []schemas.Event
}

func (r *recordingGraph) Add(t schemas.Triple) (bool, error) {
	ok, err := r.Graph.Add(t)
	if ok {
		r.events = append(r.events, schemas.Event{Type: schemas.EventAdd, Triple: t})
	}
	return ok, err
}

func (r *recordingGraph) Remove(t schemas.Triple) (bool, error) {
	ok, err := r.Graph.Remove(t)
	if ok {
		r.events = append(r.events, schemas.Event{Type: schemas.EventRemove, Triple: t})
	}
	return ok, err
}

func (r *recordingGraph) Clear() error {
	var removed []schemas.Event
	for t := range r.Graph.Filter(nil, "", nil) {
		removed = append(removed, schemas.Event{Type: schemas.EventRemove, Triple: t})
	}
	if err := r.Graph.Clear(); err != nil {
		return err
	}
	r.events = append(r.events, removed...)
	return nil
}
