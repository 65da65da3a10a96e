// Package graphmatch decides whether two graphs are isomorphic up to a
// renaming of their blank nodes.
package graphmatch

import (
	"maps"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

// Match returns a bijection from the blank nodes of g1 to those of g2 under
// which every triple of g1 is a triple of g2. The boolean is false when the
// graphs are not isomorphic. Two empty graphs match with an empty mapping.
//
// Neither input is modified; callers that share a graph across goroutines
// must hold its read lock.
func Match(g1, g2 schemas.Graph) (map[schemas.BlankNode]schemas.BlankNode, bool) {
	if g1.Size() != g2.Size() {
		return nil, false
	}
	w1, w2 := graph.Copy(g1), graph.Copy(g2)

	if !removeGrounded(w1, w2) {
		return nil, false
	}
	if w1.Size() == 0 && w2.Size() == 0 {
		return map[schemas.BlankNode]schemas.BlankNode{}, true
	}

	s1, s2 := newSide(w1), newSide(w2)
	if len(s1.nodes) != len(s2.nodes) {
		return nil, false
	}
	if !refine(s1, s2) {
		return nil, false
	}
	return individualize(w1, w2, s1, s2, 0)
}

// Equal reports whether g1 and g2 are isomorphic.
func Equal(g1, g2 schemas.Graph) bool {
	_, ok := Match(g1, g2)
	return ok
}

// removeGrounded drops the grounded triples both graphs share. A grounded
// triple present on one side only means the graphs cannot match.
func removeGrounded(w1, w2 *graph.SimpleGraph) bool {
	for _, t := range graph.Collect(w1.Filter(nil, "", nil)) {
		if !t.IsGrounded() {
			continue
		}
		if !w2.Contains(t) {
			return false
		}
		_, _ = w1.Remove(t)
		_, _ = w2.Remove(t)
	}
	for t := range w2.Filter(nil, "", nil) {
		if t.IsGrounded() {
			return false
		}
	}
	return true
}

// side holds the colour refinement state of one graph.
type side struct {
	g     *graph.SimpleGraph
	nodes []schemas.BlankNode
	color map[schemas.BlankNode]uint64
}

func newSide(g *graph.SimpleGraph) *side {
	s := &side{g: g, color: make(map[schemas.BlankNode]uint64)}
	for b := range graph.BlankNodes(g) {
		s.nodes = append(s.nodes, b)
		s.color[b] = 0
	}
	return s
}

func (s *side) clone() *side {
	return &side{g: s.g, nodes: s.nodes, color: maps.Clone(s.color)}
}

func (s *side) classes() map[uint64][]schemas.BlankNode {
	out := make(map[uint64][]schemas.BlankNode)
	for _, b := range s.nodes {
		out[s.color[b]] = append(out[s.color[b]], b)
	}
	return out
}

// label is the neighbour's contribution to a signature: its value when
// grounded, its current colour when blank. In the first round every blank
// neighbour has colour 0, the placeholder.
func (s *side) label(t schemas.Term) string {
	if b, ok := t.(schemas.BlankNode); ok {
		return "_" + strconv.FormatUint(s.color[b], 16)
	}
	return t.String()
}

// signature hashes the node's own colour with the sorted multiset of its
// forward and backward properties.
func (s *side) signature(b schemas.BlankNode) uint64 {
	var props []string
	for t := range s.g.Filter(b, "", nil) {
		props = append(props, ">"+string(t.Predicate)+" "+s.label(t.Object))
	}
	for t := range s.g.Filter(nil, "", b) {
		props = append(props, "<"+string(t.Predicate)+" "+s.label(t.Subject))
	}
	slices.Sort(props)

	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(s.color[b], 16))
	for _, p := range props {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(p)
	}
	return d.Sum64()
}

func (s *side) step() int {
	next := make(map[schemas.BlankNode]uint64, len(s.nodes))
	distinct := make(map[uint64]struct{})
	for _, b := range s.nodes {
		h := s.signature(b)
		next[b] = h
		distinct[h] = struct{}{}
	}
	s.color = next
	return len(distinct)
}

// refine runs colour refinement on both sides in lockstep until neither
// partition splits further. It fails as soon as the class sizes differ.
func refine(s1, s2 *side) bool {
	// The signature includes the previous colour, so classes only ever split
	// and the loop ends after at most len(nodes)+1 rounds.
	classes := 0
	for {
		n1 := s1.step()
		n2 := s2.step()
		if n1 != n2 || !sameClassSizes(s1.classes(), s2.classes()) {
			return false
		}
		if n1 == classes {
			return true
		}
		classes = n1
	}
}

func sameClassSizes(c1, c2 map[uint64][]schemas.BlankNode) bool {
	if len(c1) != len(c2) {
		return false
	}
	for color, nodes := range c1 {
		if len(c2[color]) != len(nodes) {
			return false
		}
	}
	return true
}

// individualize resolves the classes refinement leaves ambiguous. One node of
// the smallest such class is paired with each candidate of the other side in
// turn; both get the same fresh colour and the partitions are refined again, so
// a wrong pairing shows up as diverging class sizes before the search goes
// deeper. Once every class is a singleton the mapping is forced and checked
// against the triples.
func individualize(w1, w2 *graph.SimpleGraph, s1, s2 *side, depth int) (map[schemas.BlankNode]schemas.BlankNode, bool) {
	classes1, classes2 := s1.classes(), s2.classes()

	var pick uint64
	size := 0
	for color, nodes := range classes1 {
		n := len(nodes)
		if n > 1 && (size == 0 || n < size || (n == size && color < pick)) {
			pick, size = color, n
		}
	}

	if size == 0 {
		mapping := make(map[schemas.BlankNode]schemas.BlankNode, len(s1.nodes))
		for color, nodes := range classes1 {
			mapping[nodes[0]] = classes2[color][0]
		}
		if !validate(w1, w2, mapping) {
			return nil, false
		}
		return mapping, true
	}

	b := classes1[pick][0]
	fresh := freshColor(pick, depth)
	for _, candidate := range classes2[pick] {
		t1, t2 := s1.clone(), s2.clone()
		t1.color[b] = fresh
		t2.color[candidate] = fresh
		if !refine(t1, t2) {
			continue
		}
		if mapping, ok := individualize(w1, w2, t1, t2, depth+1); ok {
			return mapping, true
		}
	}
	return nil, false
}

func freshColor(class uint64, depth int) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString("individual\x00")
	_, _ = d.WriteString(strconv.FormatUint(class, 16))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.Itoa(depth))
	return d.Sum64()
}

// validate checks that every triple of w1 maps onto a triple of w2. Both
// graphs have the same size, so the mapping is then an isomorphism.
func validate(w1, w2 *graph.SimpleGraph, mapping map[schemas.BlankNode]schemas.BlankNode) bool {
	for t := range w1.Filter(nil, "", nil) {
		mapped, complete := substitute(t, mapping)
		if !complete || !w2.Contains(mapped) {
			return false
		}
	}
	return true
}

func substitute(t schemas.Triple, mapping map[schemas.BlankNode]schemas.BlankNode) (schemas.Triple, bool) {
	if b, ok := t.Subject.(schemas.BlankNode); ok {
		m, found := mapping[b]
		if !found {
			return t, false
		}
		t.Subject = m
	}
	if b, ok := t.Object.(schemas.BlankNode); ok {
		m, found := mapping[b]
		if !found {
			return t, false
		}
		t.Object = m
	}
	return t, true
}
