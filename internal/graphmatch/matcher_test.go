package graphmatch_test

import (
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/graph"
	"github.com/xkilldash9x/graphstore/internal/graphmatch"
)

const u1 schemas.IRI = "http://example.org/u1"

func circle(size int, first schemas.BlankNodeOrIRI) *graph.SimpleGraph {
	g := graph.NewSimpleGraph()
	last := first
	for i := 0; i < size-1; i++ {
		next := schemas.NewBlankNode()
		_, _ = g.Add(schemas.NewTriple(last, u1, next))
		last = next
	}
	_, _ = g.Add(schemas.NewTriple(last, u1, first))
	return g
}

func line(size int, first schemas.BlankNodeOrIRI) *graph.SimpleGraph {
	g := graph.NewSimpleGraph()
	last := first
	for i := 0; i < size; i++ {
		next := schemas.NewBlankNode()
		_, _ = g.Add(schemas.NewTriple(last, u1, next))
		last = next
	}
	return g
}

func union(gs ...*graph.SimpleGraph) *graph.SimpleGraph {
	out := graph.NewSimpleGraph()
	for _, g := range gs {
		_, _ = graph.AddAll(out, graph.All(g))
	}
	return out
}

// rename replaces every blank node of g with a fresh one.
func rename(g schemas.Graph) *graph.SimpleGraph {
	fresh := make(map[schemas.BlankNode]schemas.BlankNode)
	swap := func(t schemas.Term) schemas.Term {
		b, ok := t.(schemas.BlankNode)
		if !ok {
			return t
		}
		if _, seen := fresh[b]; !seen {
			fresh[b] = schemas.NewBlankNode()
		}
		return fresh[b]
	}
	out := graph.NewSimpleGraph()
	for t := range graph.All(g) {
		_, _ = out.Add(schemas.NewTriple(swap(t.Subject).(schemas.BlankNodeOrIRI), t.Predicate, swap(t.Object)))
	}
	return out
}

func TestMatch(t *testing.T) {
	t.Parallel()

	crossing := schemas.IRI("http://example.org/")
	b := func() schemas.BlankNode { return schemas.NewBlankNode() }

	testCases := []struct {
		name     string
		g1, g2   func() *graph.SimpleGraph
		wantOK   bool
		wantSize int
	}{
		{
			name:   "empty graphs",
			g1:     func() *graph.SimpleGraph { return graph.NewSimpleGraph() },
			g2:     func() *graph.SimpleGraph { return graph.NewSimpleGraph() },
			wantOK: true,
		},
		{
			name: "grounded triple against empty",
			g1:   func() *graph.SimpleGraph { return graph.NewSimpleGraph(schemas.NewTriple(u1, u1, u1)) },
			g2:   func() *graph.SimpleGraph { return graph.NewSimpleGraph() },
		},
		{
			name:   "identical grounded triple",
			g1:     func() *graph.SimpleGraph { return graph.NewSimpleGraph(schemas.NewTriple(u1, u1, u1)) },
			g2:     func() *graph.SimpleGraph { return graph.NewSimpleGraph(schemas.NewTriple(u1, u1, u1)) },
			wantOK: true,
		},
		{
			name:     "one blank object",
			g1:       func() *graph.SimpleGraph { return graph.NewSimpleGraph(schemas.NewTriple(u1, u1, b())) },
			g2:       func() *graph.SimpleGraph { return graph.NewSimpleGraph(schemas.NewTriple(u1, u1, b())) },
			wantOK:   true,
			wantSize: 1,
		},
		{
			name:     "blank subject and object",
			g1:       func() *graph.SimpleGraph { return graph.NewSimpleGraph(schemas.NewTriple(b(), u1, b())) },
			g2:       func() *graph.SimpleGraph { return graph.NewSimpleGraph(schemas.NewTriple(b(), u1, b())) },
			wantOK:   true,
			wantSize: 2,
		},
		{
			name: "shared object against single triple",
			g1: func() *graph.SimpleGraph {
				shared := b()
				return graph.NewSimpleGraph(schemas.NewTriple(b(), u1, shared), schemas.NewTriple(b(), u1, shared))
			},
			g2: func() *graph.SimpleGraph { return graph.NewSimpleGraph(schemas.NewTriple(b(), u1, b())) },
		},
		{
			name:     "circle of two",
			g1:       func() *graph.SimpleGraph { return circle(2, b()) },
			g2:       func() *graph.SimpleGraph { return circle(2, b()) },
			wantOK:   true,
			wantSize: 2,
		},
		{
			name:     "circle of five",
			g1:       func() *graph.SimpleGraph { return circle(5, b()) },
			g2:       func() *graph.SimpleGraph { return circle(5, b()) },
			wantOK:   true,
			wantSize: 5,
		},
		{
			name:     "circles of two and three on a grounded crossing",
			g1:       func() *graph.SimpleGraph { return union(circle(2, crossing), circle(3, crossing)) },
			g2:       func() *graph.SimpleGraph { return union(circle(2, crossing), circle(3, crossing)) },
			wantOK:   true,
			wantSize: 3,
		},
		{
			name: "circles of two and three on a blank crossing",
			g1: func() *graph.SimpleGraph {
				c := b()
				return union(circle(2, c), circle(3, c))
			},
			g2: func() *graph.SimpleGraph {
				c := b()
				return union(circle(2, c), circle(3, c))
			},
			wantOK:   true,
			wantSize: 4,
		},
		{
			name: "circles of two and four against three and three",
			g1: func() *graph.SimpleGraph {
				c := b()
				return union(circle(2, c), circle(4, c))
			},
			g2: func() *graph.SimpleGraph {
				c := b()
				return union(circle(3, c), circle(3, c))
			},
		},
		{
			name: "lines of four and five in either order",
			g1: func() *graph.SimpleGraph {
				s := b()
				return union(line(4, s), line(5, s))
			},
			g2: func() *graph.SimpleGraph {
				s := b()
				return union(line(5, s), line(4, s))
			},
			wantOK:   true,
			wantSize: 10,
		},
		{
			name: "lines of four and five against three and three",
			g1: func() *graph.SimpleGraph {
				s := b()
				return union(line(4, s), line(5, s))
			},
			g2: func() *graph.SimpleGraph {
				s := b()
				return union(line(3, s), line(3, s))
			},
		},
		{
			name: "grounded triple differs",
			g1: func() *graph.SimpleGraph {
				return graph.NewSimpleGraph(schemas.NewTriple(u1, u1, schemas.NewLiteral("a")), schemas.NewTriple(b(), u1, u1))
			},
			g2: func() *graph.SimpleGraph {
				return graph.NewSimpleGraph(schemas.NewTriple(u1, u1, schemas.NewLiteral("b")), schemas.NewTriple(b(), u1, u1))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g1, g2 := tc.g1(), tc.g2()
			mapping, ok := graphmatch.Match(g1, g2)
			require.Equal(t, tc.wantOK, ok)
			if !tc.wantOK {
				assert.Nil(t, mapping)
				return
			}
			require.NotNil(t, mapping)
			assert.Len(t, mapping, tc.wantSize)
			assertIsomorphism(t, g1, g2, mapping)
		})
	}
}

func TestMatch_RenamedGraph(t *testing.T) {
	t.Parallel()
	a, c := schemas.NewBlankNode(), schemas.NewBlankNode()
	g := union(
		circle(4, schemas.NewBlankNode()),
		line(3, a),
		graph.NewSimpleGraph(
			schemas.NewTriple(a, "http://example.org/name", schemas.NewLiteral("a")),
			schemas.NewTriple(c, "http://example.org/knows", a),
			schemas.NewTriple(c, "http://example.org/knows", c),
			schemas.NewTriple(u1, u1, u1),
		),
	)

	renamed := rename(g)
	mapping, ok := graphmatch.Match(g, renamed)
	require.True(t, ok)
	assert.Len(t, mapping, len(graph.BlankNodes(g)))
	assertIsomorphism(t, g, renamed, mapping)
	assert.True(t, graphmatch.Equal(renamed, g))
}

func TestMatch_DoesNotModifyInputs(t *testing.T) {
	t.Parallel()
	g1 := union(circle(3, u1), graph.NewSimpleGraph(schemas.NewTriple(u1, u1, u1)))
	g2 := rename(g1)
	_, ok := graphmatch.Match(g1, g2)
	require.True(t, ok)
	assert.Equal(t, 4, g1.Size())
	assert.Equal(t, 4, g2.Size())
}

func TestMatch_AcceptsImmutableGraphs(t *testing.T) {
	t.Parallel()
	g := circle(3, schemas.NewBlankNode())
	assert.True(t, graphmatch.Equal(g.Freeze(), rename(g).Freeze()))
}

// matchWithin fails the test when Match has not decided within d.
func matchWithin(t *testing.T, d time.Duration, g1, g2 schemas.Graph) (map[schemas.BlankNode]schemas.BlankNode, bool) {
	t.Helper()
	type result struct {
		mapping map[schemas.BlankNode]schemas.BlankNode
		ok      bool
	}
	done := make(chan result, 1)
	go func() {
		mapping, ok := graphmatch.Match(g1, g2)
		done <- result{mapping, ok}
	}()
	select {
	case r := <-done:
		return r.mapping, r.ok
	case <-time.After(d):
		t.Fatalf("match undecided after %s", d)
		return nil, false
	}
}

func circles(count, size int) *graph.SimpleGraph {
	gs := make([]*graph.SimpleGraph, count)
	for i := range gs {
		gs[i] = circle(size, schemas.NewBlankNode())
	}
	return union(gs...)
}

func TestMatch_RegularGraphs(t *testing.T) {
	t.Parallel()
	triangles := circles(8, 3)
	hexagons := circles(4, 6)
	require.Equal(t, triangles.Size(), hexagons.Size())

	mapping, ok := matchWithin(t, 5*time.Second, triangles, hexagons)
	assert.False(t, ok)
	assert.Nil(t, mapping)

	renamed := rename(triangles)
	mapping, ok = matchWithin(t, 5*time.Second, triangles, renamed)
	require.True(t, ok)
	assert.Len(t, mapping, 24)
	assertIsomorphism(t, triangles, renamed, mapping)

	// Same node and triple counts, different cycle mix.
	_, ok = matchWithin(t, 5*time.Second, union(circles(2, 4), circles(4, 2)), union(circles(3, 4), circles(2, 2)))
	assert.False(t, ok)
}

// FuzzMatchRenamed builds a random graph over a small vocabulary and checks
// that it always matches a renamed copy of itself.
func FuzzMatchRenamed(f *testing.F) {
	f.Add([]byte{4, 1, 2, 3, 0, 1, 1, 2, 2, 3, 3, 0})
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		nodes := make([]schemas.BlankNode, 6)
		for i := range nodes {
			nodes[i] = schemas.NewBlankNode()
		}
		iris := []schemas.IRI{u1, "http://example.org/u2", "http://example.org/u3"}
		term := func() (schemas.Term, error) {
			blank, err := c.GetBool()
			if err != nil {
				return nil, err
			}
			i, err := c.GetInt()
			if err != nil {
				return nil, err
			}
			if blank {
				return nodes[index(i, len(nodes))], nil
			}
			return iris[index(i, len(iris))], nil
		}

		g := graph.NewSimpleGraph()
		for g.Size() < 12 {
			s, err := term()
			if err != nil {
				break
			}
			o, err := term()
			if err != nil {
				break
			}
			p, err := c.GetInt()
			if err != nil {
				break
			}
			_, _ = g.Add(schemas.NewTriple(s.(schemas.BlankNodeOrIRI), iris[index(p, len(iris))], o))
		}

		renamed := rename(g)
		mapping, ok := graphmatch.Match(g, renamed)
		if !ok {
			t.Fatalf("graph does not match its renamed copy: %v", graph.Collect(graph.All(g)))
		}
		assertIsomorphism(t, g, renamed, mapping)
	})
}

func index(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func assertIsomorphism(t *testing.T, g1, g2 schemas.Graph, mapping map[schemas.BlankNode]schemas.BlankNode) {
	t.Helper()
	seen := make(map[schemas.BlankNode]bool)
	for _, to := range mapping {
		require.False(t, seen[to], "mapping is not injective")
		seen[to] = true
	}
	for tr := range graph.All(g1) {
		if b, ok := tr.Subject.(schemas.BlankNode); ok {
			tr.Subject = mapping[b]
		}
		if b, ok := tr.Object.(schemas.BlankNode); ok {
			tr.Object = mapping[b]
		}
		require.True(t, g2.Contains(tr), "mapped triple %v missing", tr)
	}
}
