package schemas

import (
	"context"
	"iter"
	"time"
)

// Graph is an unordered set of triples. Mutable and immutable variants share
// this interface; every mutator of an immutable graph fails with ErrReadOnly.
type Graph interface {
	// Filter yields the triples matching the given positions. A nil subject or
	// object and an empty predicate are wildcards. The sequence is lazy and can
	// be restarted by ranging over it again.
	Filter(subject BlankNodeOrIRI, predicate IRI, object Term) iter.Seq[Triple]
	Contains(t Triple) bool
	Size() int
	// Add reports false if the triple was already present.
	Add(t Triple) (bool, error)
	// Remove reports false if the triple was absent.
	Remove(t Triple) (bool, error)
	Clear() error
	// Freeze returns an immutable snapshot that shares no mutation path with
	// the receiver. Freezing an immutable graph returns the graph itself.
	Freeze() Graph
	ReadOnly() bool
}

// RWLocker is a reader/writer lock whose acquisition can be abandoned by
// cancelling the context.
type RWLocker interface {
	RLock(ctx context.Context) error
	RUnlock()
	Lock(ctx context.Context) error
	Unlock()
}

// LockableGraph is a mutable graph guarded by a reader/writer lock. Its own
// Filter, Contains and Size take the read lock; Add, Remove and Clear take the
// write lock. The lock is not reentrant: code running inside View or Update,
// or inside a range over Filter, must use the graph handed to it rather than
// calling back into the LockableGraph.
type LockableGraph interface {
	Graph
	// View runs fn under the read lock.
	View(ctx context.Context, fn func(g Graph) error) error
	// Update runs fn under the write lock. Changes made through g are
	// published to subscribers in commit order once fn returns.
	Update(ctx context.Context, fn func(g Graph) error) error
	// Lock exposes the underlying lock for callers that coordinate several
	// operations themselves.
	Lock() RWLocker
	// Subscribe registers l for changes matching p. With a positive delay the
	// changes committed within the window are delivered as one batch.
	Subscribe(l Listener, p Pattern, delay time.Duration) string
	Unsubscribe(id string)
}

// EventType distinguishes additions from removals.
type EventType int

const (
	EventAdd EventType = iota + 1
	EventRemove
)

func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event describes one committed change.
type Event struct {
	Type   EventType
	Triple Triple
}

// Listener receives batches of committed changes.
type Listener interface {
	GraphChanged(events []Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(events []Event)

func (f ListenerFunc) GraphChanged(events []Event) { f(events) }

// Provider is a storage backend owning a disjoint set of named graphs. A
// provider signals "not mine" with ErrNotFound and refuses a request it cannot
// serve with ErrUnsupported.
//
// Mutable graphs are returned unlocked; the registry wraps each one in a
// single LockableGraph. A provider must return the same instance for a name
// for as long as it owns it.
type Provider interface {
	// Name identifies the provider in logs and diagnostics.
	Name() string
	// Weight orders providers; higher weights are consulted first.
	Weight() int
	// GetGraph returns a stored immutable graph, or ErrNotFound if the name is
	// not owned or refers to a mutable graph.
	GetGraph(ctx context.Context, name IRI) (Graph, error)
	// GetMutableGraph returns a stored mutable graph, or ErrNotFound if the
	// name is not owned or refers to an immutable graph.
	GetMutableGraph(ctx context.Context, name IRI) (Graph, error)
	CreateGraph(ctx context.Context, name IRI) (Graph, error)
	CreateImmutableGraph(ctx context.Context, name IRI, triples iter.Seq[Triple]) (Graph, error)
	DeleteGraph(ctx context.Context, name IRI) error
	ListGraphs(ctx context.Context) ([]IRI, error)
	ListMutableGraphs(ctx context.Context) ([]IRI, error)
	ListImmutableGraphs(ctx context.Context) ([]IRI, error)
}
