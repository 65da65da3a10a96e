package memory_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/graph"
	"github.com/xkilldash9x/graphstore/internal/providers/memory"
)

const (
	g1 schemas.IRI = "http://example.org/graph/one"
	g2 schemas.IRI = "http://example.org/graph/two"
)

var sample = schemas.NewTriple(schemas.IRI("http://example.org/s"), "http://example.org/p", schemas.NewLiteral("o"))

func TestProvider_MutableLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := memory.New(memory.WithName("mem"), memory.WithWeight(7))
	assert.Equal(t, "mem", p.Name())
	assert.Equal(t, 7, p.Weight())

	_, err := p.GetMutableGraph(ctx, g1)
	assert.ErrorIs(t, err, schemas.ErrNotFound)

	created, err := p.CreateGraph(ctx, g1)
	require.NoError(t, err)
	_, err = created.Add(sample)
	require.NoError(t, err)

	got, err := p.GetMutableGraph(ctx, g1)
	require.NoError(t, err)
	assert.Same(t, created, got, "provider must hand out the same instance")
	assert.True(t, got.Contains(sample))

	_, err = p.GetGraph(ctx, g1)
	assert.ErrorIs(t, err, schemas.ErrNotFound, "mutable graphs are not returned as immutable")

	_, err = p.CreateGraph(ctx, g1)
	assert.ErrorIs(t, err, schemas.ErrAlreadyExists)

	require.NoError(t, p.DeleteGraph(ctx, g1))
	assert.ErrorIs(t, p.DeleteGraph(ctx, g1), schemas.ErrNotFound)
}

func TestProvider_Immutable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := memory.New()

	src := graph.NewSimpleGraph(sample)
	g, err := p.CreateImmutableGraph(ctx, g2, graph.All(src))
	require.NoError(t, err)
	assert.True(t, g.ReadOnly())
	assert.Equal(t, 1, g.Size())

	// Later changes to the source do not leak into the stored graph.
	_, err = src.Remove(sample)
	require.NoError(t, err)
	stored, err := p.GetGraph(ctx, g2)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Size())

	_, err = p.GetMutableGraph(ctx, g2)
	assert.ErrorIs(t, err, schemas.ErrNotFound)

	_, err = p.CreateGraph(ctx, g2)
	assert.ErrorIs(t, err, schemas.ErrAlreadyExists)
}

func TestProvider_Prefixes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := memory.New(memory.WithPrefixes("urn:x-test:"))

	_, err := p.CreateGraph(ctx, g1)
	assert.ErrorIs(t, err, schemas.ErrUnsupported)
	_, err = p.CreateImmutableGraph(ctx, g1, nil)
	assert.ErrorIs(t, err, schemas.ErrUnsupported)

	_, err = p.CreateGraph(ctx, "urn:x-test:a")
	assert.NoError(t, err)
}

func TestProvider_Protected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := memory.New(memory.WithProtected(g1))
	_, err := p.CreateGraph(ctx, g1)
	require.NoError(t, err)

	assert.ErrorIs(t, p.DeleteGraph(ctx, g1), schemas.ErrUndeletable)
	_, err = p.GetMutableGraph(ctx, g1)
	assert.NoError(t, err)
}

func TestProvider_Lists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := memory.New()
	_, err := p.CreateGraph(ctx, g2)
	require.NoError(t, err)
	_, err = p.CreateImmutableGraph(ctx, g1, nil)
	require.NoError(t, err)

	all, err := p.ListGraphs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schemas.IRI{g1, g2}, all)
	assert.True(t, slices.IsSorted(all))

	m, err := p.ListMutableGraphs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schemas.IRI{g2}, m)

	i, err := p.ListImmutableGraphs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schemas.IRI{g1}, i)
}
