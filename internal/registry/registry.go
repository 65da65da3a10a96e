// Package registry multiplexes named graphs over a set of weighted providers,
// gating every call through the access controller.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/access"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

// registration is one bound provider. seq is the bind order and breaks ties
// between equal weights.
type registration struct {
	provider schemas.Provider
	weight   int
	seq      uint64
}

// ProviderInfo describes a bound provider for diagnostics.
type ProviderInfo struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Seq    uint64 `json:"seq"`
}

type cacheEntry struct {
	provider schemas.Provider
	graph    *graph.Lockable
}

// Registry is the central dispatcher for named graphs. It is safe for
// concurrent use; providers can be bound and unbound while calls are in flight.
type Registry struct {
	logger       *zap.Logger
	access       *access.Controller
	trackLocks   bool
	availability func(name schemas.IRI, available bool)

	bindMu    sync.Mutex
	seq       uint64
	providers atomic.Pointer[[]registration]

	// resolveMu serializes cache misses, creates, deletes and cache
	// invalidation on bind, so a name never gets two lockables.
	resolveMu sync.Mutex
	cacheMu   sync.Mutex
	cache     map[schemas.IRI]*cacheEntry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAccessController sets the access controller. Without one, every call
// is permitted.
func WithAccessController(c *access.Controller) Option {
	return func(r *Registry) { r.access = c }
}

// WithAvailabilityHook registers fn to be told when a name appears or
// disappears because of a create, delete, bind or unbind.
func WithAvailabilityHook(fn func(name schemas.IRI, available bool)) Option {
	return func(r *Registry) { r.availability = fn }
}

// WithTrackedLocks wraps every graph lock in a graph.TrackedLock.
func WithTrackedLocks(enabled bool) Option {
	return func(r *Registry) { r.trackLocks = enabled }
}

// New creates a registry with no providers.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger: zap.NewNop(),
		cache:  make(map[schemas.IRI]*cacheEntry),
	}
	empty := []registration{}
	r.providers.Store(&empty)
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("registry")
	if r.access == nil {
		r.access = access.NewController(nil, r.logger)
	}
	r.access.Attach(r)
	return r
}

// AccessController returns the controller gating this registry.
func (r *Registry) AccessController() *access.Controller { return r.access }

// Providers returns the bound providers in dispatch order.
func (r *Registry) Providers() []ProviderInfo {
	regs := r.snapshot()
	out := make([]ProviderInfo, len(regs))
	for i, reg := range regs {
		out[i] = ProviderInfo{Name: reg.provider.Name(), Weight: reg.weight, Seq: reg.seq}
	}
	return out
}

func (r *Registry) snapshot() []registration {
	return *r.providers.Load()
}

// Bind adds a provider. If it owns names currently served from the cache by a
// provider of lower priority, those entries are evicted so the next lookup
// resolves to the new provider.
func (r *Registry) Bind(ctx context.Context, p schemas.Provider) error {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	cur := r.snapshot()
	for _, reg := range cur {
		if reg.provider == p {
			return fmt.Errorf("provider %s is already bound", p.Name())
		}
	}

	r.seq++
	added := registration{provider: p, weight: p.Weight(), seq: r.seq}
	next := append(slices.Clone(cur), added)
	slices.SortStableFunc(next, compareRegistrations)
	r.providers.Store(&next)

	r.logger.Info("Provider bound",
		zap.String("provider", p.Name()),
		zap.Int("weight", added.weight),
		zap.Int("providers", len(next)))

	// No lookup that saw the old snapshot may cache a shadowed graph after
	// the eviction below.
	r.resolveMu.Lock()
	names, err := p.ListGraphs(ctx)
	if err != nil {
		r.resolveMu.Unlock()
		return fmt.Errorf("listing graphs of %s: %w", p.Name(), err)
	}
	rank := ranks(next)
	var changes []availabilityChange
	for _, name := range names {
		r.cacheMu.Lock()
		e, cached := r.cache[name]
		evict := cached && rank[e.provider] > rank[p]
		if evict {
			delete(r.cache, name)
		}
		r.cacheMu.Unlock()

		if cached && !evict {
			continue
		}
		if evict {
			e.graph.Close()
			r.logger.Debug("Cached graph shadowed by new provider",
				zap.String("graph", string(name)),
				zap.String("old", e.provider.Name()),
				zap.String("new", p.Name()))
			changes = append(changes, availabilityChange{name, false})
		}
		changes = append(changes, availabilityChange{name, true})
	}
	r.resolveMu.Unlock()

	r.announce(changes)
	return nil
}

// Unbind removes a provider. Cached graphs it served are evicted and the
// names are resolved again against the remaining providers.
func (r *Registry) Unbind(ctx context.Context, p schemas.Provider) error {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	cur := r.snapshot()
	idx := slices.IndexFunc(cur, func(reg registration) bool { return reg.provider == p })
	if idx < 0 {
		return fmt.Errorf("provider %s is not bound", p.Name())
	}
	next := slices.Delete(slices.Clone(cur), idx, idx+1)
	r.providers.Store(&next)
	r.logger.Info("Provider unbound", zap.String("provider", p.Name()), zap.Int("providers", len(next)))

	r.resolveMu.Lock()
	var orphaned []schemas.IRI
	r.cacheMu.Lock()
	for name, e := range r.cache {
		if e.provider == p {
			delete(r.cache, name)
			e.graph.Close()
			orphaned = append(orphaned, name)
		}
	}
	r.cacheMu.Unlock()

	names, err := p.ListGraphs(ctx)
	if err != nil {
		r.logger.Warn("Listing graphs of unbound provider failed", zap.String("provider", p.Name()), zap.Error(err))
	}
	for _, name := range names {
		if !slices.Contains(orphaned, name) {
			orphaned = append(orphaned, name)
		}
	}

	changes := make([]availabilityChange, 0, 2*len(orphaned))
	for _, name := range orphaned {
		changes = append(changes, availabilityChange{name, false})
		if _, _, err := r.lookup(ctx, name, false); err == nil {
			changes = append(changes, availabilityChange{name, true})
		}
	}
	r.resolveMu.Unlock()

	r.announce(changes)
	return nil
}

// Close releases the notification goroutines of every cached graph.
func (r *Registry) Close() {
	r.cacheMu.Lock()
	entries := r.cache
	r.cache = make(map[schemas.IRI]*cacheEntry)
	r.cacheMu.Unlock()
	for _, e := range entries {
		e.graph.Close()
	}
}

type availabilityChange struct {
	name      schemas.IRI
	available bool
}

func (r *Registry) announce(changes []availabilityChange) {
	for _, c := range changes {
		r.notify(c.name, c.available)
	}
}

func (r *Registry) notify(name schemas.IRI, available bool) {
	r.logger.Debug("Graph availability changed", zap.String("graph", string(name)), zap.Bool("available", available))
	if r.availability != nil {
		r.availability(name, available)
	}
}

func compareRegistrations(a, b registration) int {
	if a.weight != b.weight {
		return b.weight - a.weight
	}
	if a.seq < b.seq {
		return -1
	}
	if a.seq > b.seq {
		return 1
	}
	return 0
}

func ranks(regs []registration) map[schemas.Provider]int {
	out := make(map[schemas.Provider]int, len(regs))
	for i, reg := range regs {
		out[reg.provider] = i
	}
	return out
}

// notMine reports whether a provider declined a name, so the next provider
// should be asked.
func notMine(err error) bool {
	return errors.Is(err, schemas.ErrNotFound) || errors.Is(err, schemas.ErrUnsupported)
}

// resolve finds the graph stored under name. Immutable graphs are returned
// as is; mutable graphs come back wrapped in the single cached lockable for
// the name. With mutableOnly, providers are only asked for mutable graphs.
func (r *Registry) resolve(ctx context.Context, name schemas.IRI, mutableOnly bool) (schemas.Graph, *graph.Lockable, error) {
	if l := r.cached(name); l != nil {
		return nil, l, nil
	}

	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()
	return r.lookup(ctx, name, mutableOnly)
}

// lookup is resolve for callers already holding resolveMu.
func (r *Registry) lookup(ctx context.Context, name schemas.IRI, mutableOnly bool) (schemas.Graph, *graph.Lockable, error) {
	if l := r.cached(name); l != nil {
		return nil, l, nil
	}

	for _, reg := range r.snapshot() {
		if !mutableOnly {
			g, err := reg.provider.GetGraph(ctx, name)
			if err == nil {
				return g, nil, nil
			}
			if !notMine(err) {
				return nil, nil, err
			}
		}
		g, err := reg.provider.GetMutableGraph(ctx, name)
		if err == nil {
			return nil, r.store(name, reg.provider, g), nil
		}
		if !notMine(err) {
			return nil, nil, err
		}
	}
	return nil, nil, schemas.ErrNotFound
}

func (r *Registry) cached(name schemas.IRI) *graph.Lockable {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if e, ok := r.cache[name]; ok {
		return e.graph
	}
	return nil
}

// store caches g for name and returns the lockable serving it. An entry of
// the same provider is kept; one left by another provider is replaced.
func (r *Registry) store(name schemas.IRI, p schemas.Provider, g schemas.Graph) *graph.Lockable {
	r.cacheMu.Lock()
	old, ok := r.cache[name]
	if ok && old.provider == p {
		r.cacheMu.Unlock()
		return old.graph
	}
	opts := []graph.Option{graph.WithLogger(r.logger.With(zap.String("graph", string(name))))}
	if r.trackLocks {
		opts = append(opts, graph.WithLock(graph.NewTrackedLock(nil, r.logger)))
	}
	l := graph.NewLockable(g, opts...)
	r.cache[name] = &cacheEntry{provider: p, graph: l}
	r.cacheMu.Unlock()
	if ok {
		old.graph.Close()
	}
	return l
}

func (r *Registry) evict(name schemas.IRI) {
	r.cacheMu.Lock()
	e, ok := r.cache[name]
	delete(r.cache, name)
	r.cacheMu.Unlock()
	if ok {
		e.graph.Close()
	}
}
