// Package file stores mutable graphs in local files named by file: IRIs.
//
// The provider keeps an index file listing the names it owns, one IRI per
// line. A data file that exists on disk without an index entry is adopted the
// first time its name is looked up.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/codec"
)

// DefaultWeight is the weight used when none is configured.
const DefaultWeight = 300

// Provider is the file-backed graph provider.
type Provider struct {
	indexPath string
	weight    int
	logger    *zap.Logger

	mu          sync.Mutex
	initialized bool
	owned       map[schemas.IRI]struct{}
	loaded      map[schemas.IRI]*persistentGraph
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

// New creates a provider whose index lives at indexPath. The index is read
// on first use.
func New(indexPath string, opts ...Option) *Provider {
	p := &Provider{
		indexPath: indexPath,
		weight:    DefaultWeight,
		logger:    zap.NewNop(),
		owned:     make(map[schemas.IRI]struct{}),
		loaded:    make(map[schemas.IRI]*persistentGraph),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("file_provider")
	return p
}

func (p *Provider) Name() string { return "file" }
func (p *Provider) Weight() int  { return p.weight }

// PathFor returns the data file of a file: IRI.
func PathFor(name schemas.IRI) (string, error) {
	u, err := url.Parse(string(name))
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return "", fmt.Errorf("%s is not a file IRI: %w", name, schemas.ErrUnsupported)
	}
	return u.Path, nil
}

// NameFor returns the file: IRI of a local path.
func NameFor(path string) schemas.IRI {
	return schemas.IRI((&url.URL{Scheme: "file", Path: path}).String())
}

func (p *Provider) GetGraph(context.Context, schemas.IRI) (schemas.Graph, error) {
	return nil, schemas.ErrNotFound
}

func (p *Provider) GetMutableGraph(_ context.Context, name schemas.IRI) (schemas.Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.initialize(); err != nil {
		return nil, err
	}
	if g, ok := p.loaded[name]; ok {
		return g, nil
	}

	path, err := PathFor(name)
	if err != nil {
		return nil, schemas.ErrNotFound
	}
	if _, err := codec.MediaTypeForPath(path); err != nil {
		return nil, schemas.ErrNotFound
	}
	_, indexed := p.owned[name]
	if !indexed {
		if _, err := os.Stat(path); err != nil {
			return nil, schemas.ErrNotFound
		}
	}

	g, err := openGraph(path, p.logger)
	if err != nil {
		return nil, err
	}
	p.loaded[name] = g
	if !indexed {
		p.owned[name] = struct{}{}
		if err := p.writeIndex(); err != nil {
			return nil, err
		}
		p.logger.Info("Adopted existing graph file", zap.String("graph", string(name)), zap.Int("size", g.Size()))
	}
	return g, nil
}

func (p *Provider) CreateGraph(_ context.Context, name schemas.IRI) (schemas.Graph, error) {
	path, err := PathFor(name)
	if err != nil {
		return nil, err
	}
	if _, err := codec.MediaTypeForPath(path); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.initialize(); err != nil {
		return nil, err
	}
	if _, ok := p.owned[name]; ok {
		return nil, schemas.ErrAlreadyExists
	}

	g, err := openGraph(path, p.logger)
	if err != nil {
		return nil, err
	}
	p.owned[name] = struct{}{}
	p.loaded[name] = g
	if err := p.writeIndex(); err != nil {
		return nil, err
	}
	p.logger.Debug("Graph created", zap.String("graph", string(name)), zap.String("path", path))
	return g, nil
}

func (p *Provider) CreateImmutableGraph(context.Context, schemas.IRI, iter.Seq[schemas.Triple]) (schemas.Graph, error) {
	return nil, schemas.ErrUnsupported
}

func (p *Provider) DeleteGraph(ctx context.Context, name schemas.IRI) error {
	gr, err := p.GetMutableGraph(ctx, name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := gr.(*persistentGraph).delete(); err != nil {
		return err
	}
	delete(p.owned, name)
	delete(p.loaded, name)
	if err := p.writeIndex(); err != nil {
		return err
	}
	p.logger.Debug("Graph deleted", zap.String("graph", string(name)))
	return nil
}

func (p *Provider) ListGraphs(ctx context.Context) ([]schemas.IRI, error) {
	return p.ListMutableGraphs(ctx)
}

func (p *Provider) ListMutableGraphs(context.Context) ([]schemas.IRI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.initialize(); err != nil {
		return nil, err
	}
	out := make([]schemas.IRI, 0, len(p.owned))
	for name := range p.owned {
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

func (p *Provider) ListImmutableGraphs(context.Context) ([]schemas.IRI, error) {
	return []schemas.IRI{}, nil
}

// initialize reads the index once. Called with p.mu held.
func (p *Provider) initialize() error {
	if p.initialized {
		return nil
	}
	f, err := os.Open(p.indexPath)
	switch {
	case os.IsNotExist(err):
		if err := p.writeIndex(); err != nil {
			return err
		}
		p.initialized = true
		return nil
	case err != nil:
		return fmt.Errorf("opening index %s: %w", p.indexPath, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p.owned[schemas.IRI(line)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading index %s: %w", p.indexPath, err)
	}
	p.initialized = true
	p.logger.Debug("Index loaded", zap.String("path", p.indexPath), zap.Int("graphs", len(p.owned)))
	return nil
}

// writeIndex rewrites the index in full. Called with p.mu held.
func (p *Provider) writeIndex() error {
	names := make([]string, 0, len(p.owned))
	for name := range p.owned {
		names = append(names, string(name))
	}
	slices.Sort(names)
	return writeAtomic(p.indexPath, func(w io.Writer) error {
		for _, n := range names {
			if _, err := io.WriteString(w, n+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}
