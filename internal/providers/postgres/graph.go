package postgres

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/codec"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

// pgGraph keeps a mutable graph in memory and mirrors each change to
// rdf_triples. A change the database rejects is undone in memory.
type pgGraph struct {
	name    schemas.IRI
	pool    DBPool
	scope   *codec.BlankNodeScope
	triples *graph.SimpleGraph
	timeout func() (context.Context, context.CancelFunc)
	logger  *zap.Logger
}

var _ schemas.Graph = (*pgGraph)(nil)

func (p *Provider) newGraph(name schemas.IRI) *pgGraph {
	return &pgGraph{
		name:    name,
		pool:    p.pool,
		scope:   codec.NewBlankNodeScope(),
		triples: graph.NewSimpleGraph(),
		timeout: func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), p.opTimeout)
		},
		logger: p.logger.With(zap.String("graph", string(name))),
	}
}

func (g *pgGraph) Filter(s schemas.BlankNodeOrIRI, p schemas.IRI, o schemas.Term) iter.Seq[schemas.Triple] {
	return g.triples.Filter(s, p, o)
}

func (g *pgGraph) Contains(t schemas.Triple) bool { return g.triples.Contains(t) }
func (g *pgGraph) Size() int                      { return g.triples.Size() }
func (g *pgGraph) Freeze() schemas.Graph          { return g.triples.Freeze() }
func (g *pgGraph) ReadOnly() bool                 { return false }

func (g *pgGraph) Add(t schemas.Triple) (bool, error) {
	added, err := g.triples.Add(t)
	if err != nil || !added {
		return added, err
	}
	if err := g.exec(sqlInsertTriple, t); err != nil {
		_, _ = g.triples.Remove(t)
		return false, err
	}
	return true, nil
}

func (g *pgGraph) Remove(t schemas.Triple) (bool, error) {
	removed, err := g.triples.Remove(t)
	if err != nil || !removed {
		return removed, err
	}
	if err := g.exec(sqlDeleteTriple, t); err != nil {
		_, _ = g.triples.Add(t)
		return false, err
	}
	return true, nil
}

func (g *pgGraph) Clear() error {
	ctx, cancel := g.timeout()
	defer cancel()
	if _, err := g.pool.Exec(ctx, sqlClearTriples, string(g.name)); err != nil {
		g.logger.Error("Failed to clear graph", zap.Error(err))
		return fmt.Errorf("failed to clear graph %s: %w", g.name, err)
	}
	return g.triples.Clear()
}

func (g *pgGraph) exec(query string, t schemas.Triple) error {
	s, p, o, err := encodeRow(t, g.scope)
	if err != nil {
		return err
	}
	ctx, cancel := g.timeout()
	defer cancel()
	if _, err := g.pool.Exec(ctx, query, string(g.name), s, p, o); err != nil {
		g.logger.Error("Failed to write triple", zap.Stringer("triple", t), zap.Error(err))
		return fmt.Errorf("failed to write triple of %s: %w", g.name, err)
	}
	return nil
}
