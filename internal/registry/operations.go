package registry

import (
	"context"
	"errors"
	"iter"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/graph"
	"github.com/xkilldash9x/graphstore/internal/graphmatch"
)

func wrap(op string, name schemas.IRI, err error) error {
	var ge *schemas.GraphError
	if err == nil || errors.As(err, &ge) {
		return err
	}
	return schemas.NewGraphError(op, name, err)
}

// GetGraph returns an immutable graph: the stored one, or a snapshot of a
// mutable graph taken under its read lock.
func (r *Registry) GetGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	if err := r.access.CheckRead(ctx, name); err != nil {
		return nil, err
	}
	immutable, l, err := r.resolve(ctx, name, false)
	if err != nil {
		return nil, wrap("get graph", name, err)
	}
	if immutable != nil {
		return immutable, nil
	}
	var frozen schemas.Graph
	err = l.View(ctx, func(g schemas.Graph) error {
		frozen = g.Freeze()
		return nil
	})
	if err != nil {
		return nil, wrap("get graph", name, err)
	}
	return frozen, nil
}

// GetMutableGraph returns the shared lockable graph for name. A caller that
// may read but not write the graph gets a view whose mutators fail with
// schemas.ErrReadOnly.
func (r *Registry) GetMutableGraph(ctx context.Context, name schemas.IRI) (schemas.LockableGraph, error) {
	writable, err := r.checkMutable(ctx, name)
	if err != nil {
		return nil, err
	}
	_, l, err := r.resolve(ctx, name, true)
	if err != nil {
		return nil, wrap("get mutable graph", name, err)
	}
	if !writable {
		return graph.NewWriteBlocked(l), nil
	}
	return l, nil
}

// GetTriples returns whichever variant is stored under name.
func (r *Registry) GetTriples(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	writable, err := r.checkMutable(ctx, name)
	if err != nil {
		return nil, err
	}
	immutable, l, err := r.resolve(ctx, name, false)
	if err != nil {
		return nil, wrap("get triples", name, err)
	}
	switch {
	case immutable != nil:
		return immutable, nil
	case !writable:
		return graph.NewWriteBlocked(l), nil
	default:
		return l, nil
	}
}

// checkMutable requires read access and reports whether write access is
// granted as well.
func (r *Registry) checkMutable(ctx context.Context, name schemas.IRI) (bool, error) {
	err := r.access.CheckReadWrite(ctx, name)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, schemas.ErrAccessDenied) {
		return false, err
	}
	if err := r.access.CheckRead(ctx, name); err != nil {
		return false, err
	}
	return false, nil
}

// CreateGraph creates an empty mutable graph with the first provider, in
// priority order, that accepts the name.
func (r *Registry) CreateGraph(ctx context.Context, name schemas.IRI) (schemas.LockableGraph, error) {
	if err := r.access.CheckReadWrite(ctx, name); err != nil {
		return nil, err
	}
	l, p, err := r.create(ctx, name)
	if err != nil {
		return nil, wrap("create graph", name, err)
	}
	r.logger.Info("Graph created", zap.String("graph", string(name)), zap.String("provider", p.Name()))
	r.notify(name, true)
	return l, nil
}

// create holds resolveMu from the existence check until the new graph is
// cached, so lookups of name wait for the lockable it returns.
func (r *Registry) create(ctx context.Context, name schemas.IRI) (*graph.Lockable, schemas.Provider, error) {
	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()
	if err := r.ensureAbsent(ctx, name); err != nil {
		return nil, nil, err
	}
	for _, reg := range r.snapshot() {
		g, err := reg.provider.CreateGraph(ctx, name)
		if notMine(err) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return r.store(name, reg.provider, g), reg.provider, nil
	}
	return nil, nil, schemas.ErrUnsupported
}

// CreateImmutableGraph stores a frozen graph holding triples. A nil seq
// creates an empty graph.
func (r *Registry) CreateImmutableGraph(ctx context.Context, name schemas.IRI, triples iter.Seq[schemas.Triple]) (schemas.Graph, error) {
	if err := r.access.CheckReadWrite(ctx, name); err != nil {
		return nil, err
	}
	if triples == nil {
		triples = func(func(schemas.Triple) bool) {}
	}
	g, p, err := r.createImmutable(ctx, name, triples)
	if err != nil {
		return nil, wrap("create immutable graph", name, err)
	}
	r.logger.Info("Immutable graph created",
		zap.String("graph", string(name)),
		zap.String("provider", p.Name()),
		zap.Int("size", g.Size()))
	r.notify(name, true)
	return g, nil
}

func (r *Registry) createImmutable(ctx context.Context, name schemas.IRI, triples iter.Seq[schemas.Triple]) (schemas.Graph, schemas.Provider, error) {
	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()
	if err := r.ensureAbsent(ctx, name); err != nil {
		return nil, nil, err
	}
	for _, reg := range r.snapshot() {
		g, err := reg.provider.CreateImmutableGraph(ctx, name, triples)
		if notMine(err) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		r.evict(name)
		return g, reg.provider, nil
	}
	return nil, nil, schemas.ErrUnsupported
}

// ensureAbsent fails with schemas.ErrAlreadyExists when name resolves. The
// caller holds resolveMu.
func (r *Registry) ensureAbsent(ctx context.Context, name schemas.IRI) error {
	_, _, err := r.lookup(ctx, name, false)
	switch {
	case err == nil:
		return schemas.ErrAlreadyExists
	case errors.Is(err, schemas.ErrNotFound):
		return nil
	default:
		return err
	}
}

// DeleteGraph asks the providers in priority order to delete name. If the
// name exists but every owner refused, it fails with schemas.ErrUndeletable.
func (r *Registry) DeleteGraph(ctx context.Context, name schemas.IRI) error {
	if err := r.access.CheckReadWrite(ctx, name); err != nil {
		return err
	}
	p, err := r.remove(ctx, name)
	if err != nil {
		return wrap("delete graph", name, err)
	}
	r.logger.Info("Graph deleted", zap.String("graph", string(name)), zap.String("provider", p.Name()))
	r.notify(name, false)
	return nil
}

func (r *Registry) remove(ctx context.Context, name schemas.IRI) (schemas.Provider, error) {
	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()

	refused := false
	for _, reg := range r.snapshot() {
		err := reg.provider.DeleteGraph(ctx, name)
		switch {
		case err == nil:
			r.evict(name)
			return reg.provider, nil
		case errors.Is(err, schemas.ErrUndeletable):
			refused = true
		case notMine(err):
		default:
			return nil, err
		}
	}

	if refused {
		return nil, schemas.ErrUndeletable
	}
	if _, _, err := r.lookup(ctx, name, false); err == nil {
		return nil, schemas.ErrUndeletable
	}
	return nil, schemas.ErrNotFound
}

// ListGraphNames returns the sorted names of all graphs the caller may read.
func (r *Registry) ListGraphNames(ctx context.Context) ([]schemas.IRI, error) {
	return r.list(ctx, schemas.Provider.ListGraphs)
}

// ListMutableGraphs returns the sorted names of readable mutable graphs.
func (r *Registry) ListMutableGraphs(ctx context.Context) ([]schemas.IRI, error) {
	return r.list(ctx, schemas.Provider.ListMutableGraphs)
}

// ListImmutableGraphs returns the sorted names of readable immutable graphs.
func (r *Registry) ListImmutableGraphs(ctx context.Context) ([]schemas.IRI, error) {
	return r.list(ctx, schemas.Provider.ListImmutableGraphs)
}

func (r *Registry) list(ctx context.Context, fn func(schemas.Provider, context.Context) ([]schemas.IRI, error)) ([]schemas.IRI, error) {
	seen := make(map[schemas.IRI]struct{})
	var out []schemas.IRI
	for _, reg := range r.snapshot() {
		names, err := fn(reg.provider, ctx)
		if err != nil {
			return nil, wrap("list graphs", "", err)
		}
		for _, name := range names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			err := r.access.CheckRead(ctx, name)
			if errors.Is(err, schemas.ErrAccessDenied) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out, nil
}

// GetNames returns the names of readable immutable graphs isomorphic to g.
func (r *Registry) GetNames(ctx context.Context, g schemas.Graph) ([]schemas.IRI, error) {
	names, err := r.ListImmutableGraphs(ctx)
	if err != nil {
		return nil, err
	}
	var out []schemas.IRI
	for _, name := range names {
		stored, err := r.GetGraph(ctx, name)
		if errors.Is(err, schemas.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if graphmatch.Equal(stored, g) {
			out = append(out, name)
		}
	}
	return out, nil
}
