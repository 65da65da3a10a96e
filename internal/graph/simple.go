package graph

import (
	"fmt"
	"iter"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

type tripleSet map[schemas.Triple]struct{}

// SimpleGraph is the in-memory mutable triple collection. It keeps subject and
// object indexes so filters with a bound subject or object do not scan the
// whole set.
//
// SimpleGraph is not safe for concurrent use; wrap it in a Lockable.
type SimpleGraph struct {
	triples   tripleSet
	bySubject map[schemas.BlankNodeOrIRI]tripleSet
	byObject  map[schemas.Term]tripleSet
}

var _ schemas.Graph = (*SimpleGraph)(nil)

// NewSimpleGraph returns a graph holding the given triples.
func NewSimpleGraph(triples ...schemas.Triple) *SimpleGraph {
	g := &SimpleGraph{
		triples:   make(tripleSet, len(triples)),
		bySubject: make(map[schemas.BlankNodeOrIRI]tripleSet),
		byObject:  make(map[schemas.Term]tripleSet),
	}
	for _, t := range triples {
		g.insert(t)
	}
	return g
}

func (g *SimpleGraph) Filter(s schemas.BlankNodeOrIRI, p schemas.IRI, o schemas.Term) iter.Seq[schemas.Triple] {
	pattern := schemas.Pattern{Subject: s, Predicate: p, Object: o}
	return func(yield func(schemas.Triple) bool) {
		candidates := g.triples
		switch {
		case s != nil:
			candidates = g.bySubject[s]
		case o != nil:
			candidates = g.byObject[o]
		}
		for t := range candidates {
			if !pattern.Matches(t) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

func (g *SimpleGraph) Contains(t schemas.Triple) bool {
	_, ok := g.triples[t]
	return ok
}

func (g *SimpleGraph) Size() int { return len(g.triples) }

func (g *SimpleGraph) Add(t schemas.Triple) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, fmt.Errorf("add: %w", err)
	}
	if g.Contains(t) {
		return false, nil
	}
	g.insert(t)
	return true, nil
}

func (g *SimpleGraph) Remove(t schemas.Triple) (bool, error) {
	if !g.Contains(t) {
		return false, nil
	}
	delete(g.triples, t)
	removeIndexed(g.bySubject, t.Subject, t)
	removeIndexed(g.byObject, t.Object, t)
	return true, nil
}

func (g *SimpleGraph) Clear() error {
	clear(g.triples)
	clear(g.bySubject)
	clear(g.byObject)
	return nil
}

// Freeze copies the current content into an ImmutableGraph.
func (g *SimpleGraph) Freeze() schemas.Graph {
	return &ImmutableGraph{inner: g.clone()}
}

func (g *SimpleGraph) ReadOnly() bool { return false }

func (g *SimpleGraph) clone() *SimpleGraph {
	c := NewSimpleGraph()
	for t := range g.triples {
		c.insert(t)
	}
	return c
}

func (g *SimpleGraph) insert(t schemas.Triple) {
	g.triples[t] = struct{}{}
	addIndexed(g.bySubject, t.Subject, t)
	addIndexed(g.byObject, t.Object, t)
}

func addIndexed[K comparable](idx map[K]tripleSet, key K, t schemas.Triple) {
	set, ok := idx[key]
	if !ok {
		set = make(tripleSet)
		idx[key] = set
	}
	set[t] = struct{}{}
}

func removeIndexed[K comparable](idx map[K]tripleSet, key K, t schemas.Triple) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, t)
	if len(set) == 0 {
		delete(idx, key)
	}
}
