// Package redisstore keeps mutable graphs in Redis sets.
//
// Keys are namespaced with a prefix: {prefix}:graphs holds the owned names
// and {prefix}:graph:{name} holds the encoded triples of one graph.
package redisstore

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/codec"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

const (
	defaultWeight    = 50
	defaultOpTimeout = 5 * time.Second
)

// Provider is the Redis graph provider. It is safe for concurrent use.
type Provider struct {
	rdb       *redis.Client
	prefix    string
	weight    int
	opTimeout time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	loaded map[schemas.IRI]*redisGraph
}

var _ schemas.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithWeight sets the dispatch weight.
func WithWeight(weight int) Option {
	return func(p *Provider) { p.weight = weight }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithOpTimeout bounds each write-through command.
func WithOpTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.opTimeout = d
		}
	}
}

// New creates a provider for the keys under prefix. The prefix must not be
// empty.
func New(redisOpts *redis.Options, prefix string, opts ...Option) (*Provider, error) {
	if prefix == "" {
		return nil, fmt.Errorf("key prefix cannot be empty")
	}
	p := &Provider{
		rdb:       redis.NewClient(redisOpts),
		prefix:    prefix,
		weight:    defaultWeight,
		opTimeout: defaultOpTimeout,
		logger:    zap.NewNop(),
		loaded:    make(map[schemas.IRI]*redisGraph),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("redis_provider").With(zap.String("prefix", prefix))
	return p, nil
}

// Ping verifies Redis connectivity.
func (p *Provider) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *Provider) Close() error {
	return p.rdb.Close()
}

func (p *Provider) Name() string { return "redis" }
func (p *Provider) Weight() int  { return p.weight }

func (p *Provider) namesKey() string { return p.prefix + ":graphs" }

func (p *Provider) graphKey(name schemas.IRI) string {
	return p.prefix + ":graph:" + string(name)
}

func (p *Provider) GetGraph(context.Context, schemas.IRI) (schemas.Graph, error) {
	return nil, schemas.ErrNotFound
}

func (p *Provider) GetMutableGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.loaded[name]; ok {
		return g, nil
	}

	owned, err := p.rdb.SIsMember(ctx, p.namesKey(), string(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to look up graph %s: %w", name, err)
	}
	if !owned {
		return nil, schemas.ErrNotFound
	}
	members, err := p.rdb.SMembers(ctx, p.graphKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", name, err)
	}

	g := p.newGraph(name)
	for _, m := range members {
		t, err := codec.DecodeTriple(m, g.scope)
		if err != nil {
			return nil, fmt.Errorf("graph %s: %w", name, err)
		}
		if _, err := g.triples.Add(t); err != nil {
			return nil, err
		}
	}
	p.loaded[name] = g
	p.logger.Debug("Graph loaded", zap.String("graph", string(name)), zap.Int("size", g.Size()))
	return g, nil
}

func (p *Provider) CreateGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var added *redis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, p.namesKey(), string(name))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create graph %s: %w", name, err)
	}
	if added.Val() == 0 {
		return nil, schemas.ErrAlreadyExists
	}
	// A leftover triple set from an interrupted delete must not leak in.
	if err := p.rdb.Del(ctx, p.graphKey(name)).Err(); err != nil {
		return nil, fmt.Errorf("failed to reset graph %s: %w", name, err)
	}

	g := p.newGraph(name)
	p.loaded[name] = g
	p.logger.Debug("Graph created", zap.String("graph", string(name)))
	return g, nil
}

func (p *Provider) CreateImmutableGraph(context.Context, schemas.IRI, iter.Seq[schemas.Triple]) (schemas.Graph, error) {
	return nil, schemas.ErrUnsupported
}

func (p *Provider) DeleteGraph(ctx context.Context, name schemas.IRI) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed *redis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, p.namesKey(), string(name))
		pipe.Del(ctx, p.graphKey(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete graph %s: %w", name, err)
	}
	delete(p.loaded, name)
	if removed.Val() == 0 {
		return schemas.ErrNotFound
	}
	p.logger.Debug("Graph deleted", zap.String("graph", string(name)))
	return nil
}

func (p *Provider) ListGraphs(ctx context.Context) ([]schemas.IRI, error) {
	return p.ListMutableGraphs(ctx)
}

func (p *Provider) ListMutableGraphs(ctx context.Context) ([]schemas.IRI, error) {
	members, err := p.rdb.SMembers(ctx, p.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}
	out := make([]schemas.IRI, len(members))
	for i, m := range members {
		out[i] = schemas.IRI(m)
	}
	slices.Sort(out)
	return out, nil
}

func (p *Provider) ListImmutableGraphs(context.Context) ([]schemas.IRI, error) {
	return []schemas.IRI{}, nil
}

// redisGraph mirrors every change to the graph's Redis set. A change Redis
// rejects is undone in memory.
type redisGraph struct {
	key      string
	provider *Provider
	scope    *codec.BlankNodeScope
	triples  *graph.SimpleGraph
}

var _ schemas.Graph = (*redisGraph)(nil)

func (p *Provider) newGraph(name schemas.IRI) *redisGraph {
	return &redisGraph{
		key:      p.graphKey(name),
		provider: p,
		scope:    codec.NewBlankNodeScope(),
		triples:  graph.NewSimpleGraph(),
	}
}

func (g *redisGraph) Filter(s schemas.BlankNodeOrIRI, p schemas.IRI, o schemas.Term) iter.Seq[schemas.Triple] {
	return g.triples.Filter(s, p, o)
}

func (g *redisGraph) Contains(t schemas.Triple) bool { return g.triples.Contains(t) }
func (g *redisGraph) Size() int                      { return g.triples.Size() }
func (g *redisGraph) Freeze() schemas.Graph          { return g.triples.Freeze() }
func (g *redisGraph) ReadOnly() bool                 { return false }

func (g *redisGraph) Add(t schemas.Triple) (bool, error) {
	added, err := g.triples.Add(t)
	if err != nil || !added {
		return added, err
	}
	if err := g.write(t, true); err != nil {
		_, _ = g.triples.Remove(t)
		return false, err
	}
	return true, nil
}

func (g *redisGraph) Remove(t schemas.Triple) (bool, error) {
	removed, err := g.triples.Remove(t)
	if err != nil || !removed {
		return removed, err
	}
	if err := g.write(t, false); err != nil {
		_, _ = g.triples.Add(t)
		return false, err
	}
	return true, nil
}

func (g *redisGraph) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.provider.opTimeout)
	defer cancel()
	if err := g.provider.rdb.Del(ctx, g.key).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", g.key, err)
	}
	return g.triples.Clear()
}

func (g *redisGraph) write(t schemas.Triple, add bool) error {
	member, err := codec.EncodeTriple(t, g.scope)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.provider.opTimeout)
	defer cancel()
	if add {
		err = g.provider.rdb.SAdd(ctx, g.key, member).Err()
	} else {
		err = g.provider.rdb.SRem(ctx, g.key, member).Err()
	}
	if err != nil {
		g.provider.logger.Error("Failed to write triple", zap.String("key", g.key), zap.Error(err))
		return fmt.Errorf("failed to write triple to %s: %w", g.key, err)
	}
	return nil
}
