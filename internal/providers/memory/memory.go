// Package memory is a process-scoped graph provider.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

// Provider keeps graphs in memory for the lifetime of the process.
type Provider struct {
	name      string
	weight    int
	prefixes  []string
	protected map[schemas.IRI]struct{}
	logger    *zap.Logger

	mu        sync.RWMutex
	mutable   map[schemas.IRI]*graph.SimpleGraph
	immutable map[schemas.IRI]*graph.ImmutableGraph
}

var _ schemas.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithName sets the name used in logs and diagnostics.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithWeight sets the dispatch weight.
func WithWeight(weight int) Option {
	return func(p *Provider) { p.weight = weight }
}

// WithPrefixes restricts the provider to names starting with one of prefixes.
// Other names are refused with schemas.ErrUnsupported.
func WithPrefixes(prefixes ...string) Option {
	return func(p *Provider) { p.prefixes = append(p.prefixes, prefixes...) }
}

// WithProtected marks names that cannot be deleted.
func WithProtected(names ...schemas.IRI) Option {
	return func(p *Provider) {
		for _, n := range names {
			p.protected[n] = struct{}{}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates an empty provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:      "memory",
		logger:    zap.NewNop(),
		protected: make(map[schemas.IRI]struct{}),
		mutable:   make(map[schemas.IRI]*graph.SimpleGraph),
		immutable: make(map[schemas.IRI]*graph.ImmutableGraph),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("memory_provider").With(zap.String("provider", p.name))
	return p
}

func (p *Provider) Name() string { return p.name }
func (p *Provider) Weight() int  { return p.weight }

func (p *Provider) accepts(name schemas.IRI) bool {
	if len(p.prefixes) == 0 {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(string(name), prefix) {
			return true
		}
	}
	return false
}

func (p *Provider) GetGraph(_ context.Context, name schemas.IRI) (schemas.Graph, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if g, ok := p.immutable[name]; ok {
		return g, nil
	}
	return nil, schemas.ErrNotFound
}

func (p *Provider) GetMutableGraph(_ context.Context, name schemas.IRI) (schemas.Graph, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if g, ok := p.mutable[name]; ok {
		return g, nil
	}
	return nil, schemas.ErrNotFound
}

func (p *Provider) CreateGraph(_ context.Context, name schemas.IRI) (schemas.Graph, error) {
	if !p.accepts(name) {
		return nil, schemas.ErrUnsupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owns(name) {
		return nil, schemas.ErrAlreadyExists
	}
	g := graph.NewSimpleGraph()
	p.mutable[name] = g
	p.logger.Debug("Graph created", zap.String("graph", string(name)))
	return g, nil
}

func (p *Provider) CreateImmutableGraph(_ context.Context, name schemas.IRI, triples iter.Seq[schemas.Triple]) (schemas.Graph, error) {
	if !p.accepts(name) {
		return nil, schemas.ErrUnsupported
	}
	g := graph.NewImmutableGraph(triples)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owns(name) {
		return nil, schemas.ErrAlreadyExists
	}
	p.immutable[name] = g
	p.logger.Debug("Immutable graph created", zap.String("graph", string(name)), zap.Int("size", g.Size()))
	return g, nil
}

func (p *Provider) DeleteGraph(_ context.Context, name schemas.IRI) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.owns(name) {
		return schemas.ErrNotFound
	}
	if _, ok := p.protected[name]; ok {
		return fmt.Errorf("%s is protected: %w", name, schemas.ErrUndeletable)
	}
	delete(p.mutable, name)
	delete(p.immutable, name)
	p.logger.Debug("Graph deleted", zap.String("graph", string(name)))
	return nil
}

func (p *Provider) ListGraphs(ctx context.Context) ([]schemas.IRI, error) {
	m, _ := p.ListMutableGraphs(ctx)
	i, _ := p.ListImmutableGraphs(ctx)
	out := append(m, i...)
	slices.Sort(out)
	return out, nil
}

func (p *Provider) ListMutableGraphs(context.Context) ([]schemas.IRI, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedKeys(p.mutable), nil
}

func (p *Provider) ListImmutableGraphs(context.Context) ([]schemas.IRI, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedKeys(p.immutable), nil
}

func (p *Provider) owns(name schemas.IRI) bool {
	_, m := p.mutable[name]
	_, i := p.immutable[name]
	return m || i
}

func sortedKeys[V any](m map[schemas.IRI]V) []schemas.IRI {
	out := make([]schemas.IRI, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
