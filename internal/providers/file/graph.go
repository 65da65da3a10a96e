package file

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/codec"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

// persistentGraph is a mutable graph mirrored to one data file. Every
// successful mutation rewrites the file; a failed write rolls the mutation
// back so memory and disk never disagree. Once deleted, every mutation fails
// with schemas.ErrNotFound and the file is never written again.
type persistentGraph struct {
	path      string
	mediaType string
	scope     *codec.BlankNodeScope
	triples   *graph.SimpleGraph
	logger    *zap.Logger

	mu      sync.Mutex
	deleted bool
}

var _ schemas.Graph = (*persistentGraph)(nil)

// openGraph loads path, creating an empty file when it does not exist.
func openGraph(path string, logger *zap.Logger) (*persistentGraph, error) {
	mt, err := codec.MediaTypeForPath(path)
	if err != nil {
		return nil, err
	}
	g := &persistentGraph{
		path:      path,
		mediaType: mt,
		scope:     codec.NewBlankNodeScope(),
		triples:   graph.NewSimpleGraph(),
		logger:    logger,
	}

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		if err := g.flush(); err != nil {
			return nil, err
		}
		return g, nil
	case err != nil:
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return g, nil
	}
	parsed, err := codec.Parse(f, mt, g.scope)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	for _, t := range parsed {
		if _, err := g.triples.Add(t); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *persistentGraph) Filter(s schemas.BlankNodeOrIRI, p schemas.IRI, o schemas.Term) iter.Seq[schemas.Triple] {
	return g.triples.Filter(s, p, o)
}

func (g *persistentGraph) Contains(t schemas.Triple) bool { return g.triples.Contains(t) }
func (g *persistentGraph) Size() int                      { return g.triples.Size() }
func (g *persistentGraph) Freeze() schemas.Graph          { return g.triples.Freeze() }
func (g *persistentGraph) ReadOnly() bool                 { return false }

func (g *persistentGraph) Add(t schemas.Triple) (bool, error) {
	if err := g.live(); err != nil {
		return false, err
	}
	added, err := g.triples.Add(t)
	if err != nil || !added {
		return added, err
	}
	if err := g.flush(); err != nil {
		_, _ = g.triples.Remove(t)
		return false, err
	}
	return true, nil
}

func (g *persistentGraph) Remove(t schemas.Triple) (bool, error) {
	if err := g.live(); err != nil {
		return false, err
	}
	removed, err := g.triples.Remove(t)
	if err != nil || !removed {
		return removed, err
	}
	if err := g.flush(); err != nil {
		_, _ = g.triples.Add(t)
		return false, err
	}
	return true, nil
}

func (g *persistentGraph) Clear() error {
	if err := g.live(); err != nil {
		return err
	}
	previous := graph.Collect(graph.All(g.triples))
	if err := g.triples.Clear(); err != nil {
		return err
	}
	if err := g.flush(); err != nil {
		for _, t := range previous {
			_, _ = g.triples.Add(t)
		}
		return err
	}
	return nil
}

func (g *persistentGraph) live() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liveLocked()
}

func (g *persistentGraph) liveLocked() error {
	if g.deleted {
		return fmt.Errorf("%s was deleted: %w", g.path, schemas.ErrNotFound)
	}
	return nil
}

// flush rewrites the data file in full.
func (g *persistentGraph) flush() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.liveLocked(); err != nil {
		return err
	}
	err := writeAtomic(g.path, func(w io.Writer) error {
		return codec.Serialize(w, g.triples, g.mediaType, g.scope)
	})
	if err != nil {
		g.logger.Error("Failed to write graph file", zap.String("path", g.path), zap.Error(err))
		return err
	}
	return nil
}

func (g *persistentGraph) delete() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", g.path, err)
	}
	g.deleted = true
	return nil
}

// writeAtomic replaces path with whatever fn writes, through a temporary file
// in the same directory and a rename.
func writeAtomic(path string, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
