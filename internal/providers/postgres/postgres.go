// Package postgres stores named graphs in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/codec"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the provider's tables.
const Schema = `
CREATE TABLE IF NOT EXISTS rdf_graphs (
    name TEXT PRIMARY KEY,
    immutable BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS rdf_triples (
    graph TEXT NOT NULL REFERENCES rdf_graphs (name) ON DELETE CASCADE,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    PRIMARY KEY (graph, subject, predicate, object)
);
`

const (
	sqlGraphKind      = `SELECT immutable FROM rdf_graphs WHERE name = $1`
	sqlSelectTriples  = `SELECT subject, predicate, object FROM rdf_triples WHERE graph = $1`
	sqlInsertGraph    = `INSERT INTO rdf_graphs (name, immutable, created_at) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`
	sqlDeleteGraph    = `DELETE FROM rdf_graphs WHERE name = $1`
	sqlInsertTriple   = `INSERT INTO rdf_triples (graph, subject, predicate, object) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`
	sqlDeleteTriple   = `DELETE FROM rdf_triples WHERE graph = $1 AND subject = $2 AND predicate = $3 AND object = $4`
	sqlClearTriples   = `DELETE FROM rdf_triples WHERE graph = $1`
	sqlListGraphs     = `SELECT name FROM rdf_graphs ORDER BY name`
	sqlListByKind     = `SELECT name FROM rdf_graphs WHERE immutable = $1 ORDER BY name`
	defaultOpTimeout  = 10 * time.Second
	defaultWeight     = 100
	providerName      = "postgres"
	tripleTable       = "rdf_triples"
)

var tripleColumns = []string{"graph", "subject", "predicate", "object"}

// Provider is the PostgreSQL graph provider. Each name is loaded at most
// once; mutations of a loaded mutable graph are written through.
type Provider struct {
	pool      DBPool
	logger    *zap.Logger
	weight    int
	opTimeout time.Duration

	mu        sync.Mutex
	mutable   map[schemas.IRI]*pgGraph
	immutable map[schemas.IRI]*graph.ImmutableGraph
}

var _ schemas.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithWeight sets the dispatch weight.
func WithWeight(weight int) Option {
	return func(p *Provider) { p.weight = weight }
}

// WithOpTimeout bounds each write-through statement.
func WithOpTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.opTimeout = d
		}
	}
}

// New verifies the connection and returns a provider.
func New(ctx context.Context, pool DBPool, logger *zap.Logger, opts ...Option) (*Provider, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		pool:      pool,
		logger:    logger.Named("postgres_provider"),
		weight:    defaultWeight,
		opTimeout: defaultOpTimeout,
		mutable:   make(map[schemas.IRI]*pgGraph),
		immutable: make(map[schemas.IRI]*graph.ImmutableGraph),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Migrate creates the tables if they do not exist.
func (p *Provider) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *Provider) Name() string { return providerName }
func (p *Provider) Weight() int  { return p.weight }

// kind reports whether name exists and whether it is immutable.
func (p *Provider) kind(ctx context.Context, name schemas.IRI) (immutable bool, err error) {
	err = p.pool.QueryRow(ctx, sqlGraphKind, string(name)).Scan(&immutable)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, schemas.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up graph %s: %w", name, err)
	}
	return immutable, nil
}

func (p *Provider) load(ctx context.Context, name schemas.IRI, scope *codec.BlankNodeScope) ([]schemas.Triple, error) {
	rows, err := p.pool.Query(ctx, sqlSelectTriples, string(name))
	if err != nil {
		return nil, fmt.Errorf("failed to query triples of %s: %w", name, err)
	}
	defer rows.Close()

	var out []schemas.Triple
	for rows.Next() {
		var s, pred, o string
		if err := rows.Scan(&s, &pred, &o); err != nil {
			return nil, fmt.Errorf("failed to scan triple row: %w", err)
		}
		t, err := decodeRow(s, pred, o, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (p *Provider) GetGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.immutable[name]; ok {
		return g, nil
	}
	if _, ok := p.mutable[name]; ok {
		return nil, schemas.ErrNotFound
	}

	immutable, err := p.kind(ctx, name)
	if err != nil {
		return nil, err
	}
	if !immutable {
		return nil, schemas.ErrNotFound
	}
	triples, err := p.load(ctx, name, codec.NewBlankNodeScope())
	if err != nil {
		return nil, err
	}
	g := graph.NewImmutableGraph(func(yield func(schemas.Triple) bool) {
		for _, t := range triples {
			if !yield(t) {
				return
			}
		}
	})
	p.immutable[name] = g
	return g, nil
}

func (p *Provider) GetMutableGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.mutable[name]; ok {
		return g, nil
	}
	if _, ok := p.immutable[name]; ok {
		return nil, schemas.ErrNotFound
	}

	immutable, err := p.kind(ctx, name)
	if err != nil {
		return nil, err
	}
	if immutable {
		return nil, schemas.ErrNotFound
	}
	g := p.newGraph(name)
	triples, err := p.load(ctx, name, g.scope)
	if err != nil {
		return nil, err
	}
	for _, t := range triples {
		if _, err := g.triples.Add(t); err != nil {
			return nil, err
		}
	}
	p.mutable[name] = g
	p.logger.Debug("Graph loaded", zap.String("graph", string(name)), zap.Int("size", g.Size()))
	return g, nil
}

func (p *Provider) CreateGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tag, err := p.pool.Exec(ctx, sqlInsertGraph, string(name), false, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create graph %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, schemas.ErrAlreadyExists
	}
	g := p.newGraph(name)
	p.mutable[name] = g
	p.logger.Debug("Graph created", zap.String("graph", string(name)))
	return g, nil
}

func (p *Provider) CreateImmutableGraph(ctx context.Context, name schemas.IRI, triples iter.Seq[schemas.Triple]) (schemas.Graph, error) {
	g := graph.NewImmutableGraph(triples)
	scope := codec.NewBlankNodeScope()
	rows := make([][]any, 0, g.Size())
	for t := range g.Filter(nil, "", nil) {
		s, pred, o, err := encodeRow(t, scope)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{string(name), s, pred, o})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.logger.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	tag, err := tx.Exec(ctx, sqlInsertGraph, string(name), true, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create graph %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, schemas.ErrAlreadyExists
	}
	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{tripleTable}, tripleColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return nil, fmt.Errorf("failed to copy triples: %w", err)
		}
		if int(n) != len(rows) {
			return nil, fmt.Errorf("mismatch in copied triple count: expected %d, got %d", len(rows), n)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	p.immutable[name] = g
	p.logger.Debug("Immutable graph created", zap.String("graph", string(name)), zap.Int("size", g.Size()))
	return g, nil
}

func (p *Provider) DeleteGraph(ctx context.Context, name schemas.IRI) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tag, err := p.pool.Exec(ctx, sqlDeleteGraph, string(name))
	if err != nil {
		return fmt.Errorf("failed to delete graph %s: %w", name, err)
	}
	delete(p.mutable, name)
	delete(p.immutable, name)
	if tag.RowsAffected() == 0 {
		return schemas.ErrNotFound
	}
	p.logger.Debug("Graph deleted", zap.String("graph", string(name)))
	return nil
}

func (p *Provider) ListGraphs(ctx context.Context) ([]schemas.IRI, error) {
	return p.listNames(ctx, sqlListGraphs)
}

func (p *Provider) ListMutableGraphs(ctx context.Context) ([]schemas.IRI, error) {
	return p.listNames(ctx, sqlListByKind, false)
}

func (p *Provider) ListImmutableGraphs(ctx context.Context) ([]schemas.IRI, error) {
	return p.listNames(ctx, sqlListByKind, true)
}

func (p *Provider) listNames(ctx context.Context, query string, args ...any) ([]schemas.IRI, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}
	defer rows.Close()

	names := []schemas.IRI{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan graph name: %w", err)
		}
		names = append(names, schemas.IRI(n))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return names, nil
}

func encodeRow(t schemas.Triple, scope *codec.BlankNodeScope) (s, p, o string, err error) {
	if s, err = codec.EncodeTerm(t.Subject, scope); err != nil {
		return "", "", "", err
	}
	if o, err = codec.EncodeTerm(t.Object, scope); err != nil {
		return "", "", "", err
	}
	return s, string(t.Predicate), o, nil
}

func decodeRow(s, p, o string, scope *codec.BlankNodeScope) (schemas.Triple, error) {
	subj, err := codec.DecodeTerm(s, scope)
	if err != nil {
		return schemas.Triple{}, err
	}
	sub, ok := subj.(schemas.BlankNodeOrIRI)
	if !ok {
		return schemas.Triple{}, fmt.Errorf("literal in subject position: %s", s)
	}
	obj, err := codec.DecodeTerm(o, scope)
	if err != nil {
		return schemas.Triple{}, err
	}
	return schemas.NewTriple(sub, schemas.IRI(p), obj), nil
}
