package graph

import (
	"iter"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// ImmutableGraph is a frozen triple collection. Every mutator fails with
// schemas.ErrReadOnly. It is safe for concurrent reads.
type ImmutableGraph struct {
	inner *SimpleGraph
}

var _ schemas.Graph = (*ImmutableGraph)(nil)

// NewImmutableGraph freezes the triples produced by seq. A nil seq yields an
// empty graph.
func NewImmutableGraph(seq iter.Seq[schemas.Triple]) *ImmutableGraph {
	g := NewSimpleGraph()
	if seq != nil {
		for t := range seq {
			g.insert(t)
		}
	}
	return &ImmutableGraph{inner: g}
}

func (g *ImmutableGraph) Filter(s schemas.BlankNodeOrIRI, p schemas.IRI, o schemas.Term) iter.Seq[schemas.Triple] {
	return g.inner.Filter(s, p, o)
}

func (g *ImmutableGraph) Contains(t schemas.Triple) bool { return g.inner.Contains(t) }
func (g *ImmutableGraph) Size() int                      { return g.inner.Size() }

func (g *ImmutableGraph) Add(schemas.Triple) (bool, error)    { return false, schemas.ErrReadOnly }
func (g *ImmutableGraph) Remove(schemas.Triple) (bool, error) { return false, schemas.ErrReadOnly }
func (g *ImmutableGraph) Clear() error                        { return schemas.ErrReadOnly }

func (g *ImmutableGraph) Freeze() schemas.Graph { return g }
func (g *ImmutableGraph) ReadOnly() bool        { return true }
