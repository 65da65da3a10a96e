package graph

import (
	"fmt"
	"iter"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// All yields every triple of g.
func All(g schemas.Graph) iter.Seq[schemas.Triple] {
	return g.Filter(nil, "", nil)
}

// AddAll adds every triple of seq to dst and returns how many were new.
func AddAll(dst schemas.Graph, seq iter.Seq[schemas.Triple]) (int, error) {
	n := 0
	for t := range seq {
		ok, err := dst.Add(t)
		if err != nil {
			return n, fmt.Errorf("adding %v: %w", t, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Copy returns a mutable in-memory copy of g.
func Copy(g schemas.Graph) *SimpleGraph {
	c := NewSimpleGraph()
	for t := range All(g) {
		c.insert(t)
	}
	return c
}

// Collect materializes seq.
func Collect(seq iter.Seq[schemas.Triple]) []schemas.Triple {
	var out []schemas.Triple
	for t := range seq {
		out = append(out, t)
	}
	return out
}

// BlankNodes returns the distinct blank nodes used as subject or object in g.
func BlankNodes(g schemas.Graph) map[schemas.BlankNode]struct{} {
	nodes := make(map[schemas.BlankNode]struct{})
	for t := range All(g) {
		if b, ok := t.Subject.(schemas.BlankNode); ok {
			nodes[b] = struct{}{}
		}
		if b, ok := t.Object.(schemas.BlankNode); ok {
			nodes[b] = struct{}{}
		}
	}
	return nodes
}
