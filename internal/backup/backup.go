// Package backup exports every readable graph of a store to a directory and
// restores such a directory into a store.
//
// A backup directory holds one serialized file per graph and a manifest.json
// naming them. The manifest is written last, so a directory without one is an
// interrupted export.
package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/codec"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

// ManifestFile is the name of the manifest inside a backup directory.
const ManifestFile = "manifest.json"

const defaultConcurrency = 4

// Store is the part of the registry a backup needs.
type Store interface {
	ListGraphNames(ctx context.Context) ([]schemas.IRI, error)
	ListImmutableGraphs(ctx context.Context) ([]schemas.IRI, error)
	GetGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error)
	CreateGraph(ctx context.Context, name schemas.IRI) (schemas.LockableGraph, error)
	CreateImmutableGraph(ctx context.Context, name schemas.IRI, triples iter.Seq[schemas.Triple]) (schemas.Graph, error)
	DeleteGraph(ctx context.Context, name schemas.IRI) error
}

// Manifest describes a backup directory.
type Manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	MediaType string    `json:"media_type"`
	Graphs    []Entry   `json:"graphs"`
}

// Entry describes one exported graph.
type Entry struct {
	Name      schemas.IRI `json:"name"`
	File      string      `json:"file"`
	Immutable bool        `json:"immutable"`
	Triples   int         `json:"triples"`
}

// Service runs exports and restores against a Store.
type Service struct {
	store       Store
	concurrency int
	mediaType   string
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithConcurrency bounds how many graphs are processed at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMediaType sets the format graphs are exported in.
func WithMediaType(mediaType string) Option {
	return func(s *Service) { s.mediaType = mediaType }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service. It fails if the media type cannot be serialized.
func New(store Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:       store,
		concurrency: defaultConcurrency,
		mediaType:   codec.MediaTypeNQuads,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !codec.Supported(s.mediaType) {
		return nil, fmt.Errorf("backup format %q: %w", s.mediaType, schemas.ErrUnsupported)
	}
	s.logger = s.logger.Named("backup")
	return s, nil
}

// Export writes every graph the caller can read into dir, creating it if
// needed. Mutable graphs are exported from a snapshot taken under their read
// lock.
func (s *Service) Export(ctx context.Context, dir string) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	names, err := s.store.ListGraphNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}
	immutable, err := s.store.ListImmutableGraphs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list immutable graphs: %w", err)
	}
	ext, err := codec.ExtensionFor(s.mediaType)
	if err != nil {
		return nil, err
	}

	slices.Sort(names)
	entries := make([]Entry, len(names))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			snapshot, err := s.store.GetGraph(groupCtx, name)
			if errors.Is(err, schemas.ErrNotFound) {
				s.logger.Info("Graph deleted during export, skipping", zap.String("graph", string(name)))
				return nil
			}
			if err != nil {
				return err
			}
			file := fmt.Sprintf("graph-%04d%s", i, ext)
			if err := s.writeGraph(filepath.Join(dir, file), snapshot); err != nil {
				return fmt.Errorf("failed to export %s: %w", name, err)
			}
			entries[i] = Entry{
				Name:      name,
				File:      file,
				Immutable: slices.Contains(immutable, name),
				Triples:   snapshot.Size(),
			}
			s.logger.Debug("Graph exported", zap.String("graph", string(name)), zap.String("file", file))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	entries = slices.DeleteFunc(entries, func(e Entry) bool { return e.File == "" })

	m := &Manifest{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		MediaType: s.mediaType,
		Graphs:    entries,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	s.logger.Info("Backup written", zap.String("dir", dir), zap.Int("graphs", len(entries)))
	return m, nil
}

func (s *Service) writeGraph(path string, g schemas.Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := codec.Serialize(w, g, s.mediaType, nil); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadManifest loads and checks the manifest of a backup directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if !codec.Supported(m.MediaType) {
		return nil, fmt.Errorf("manifest format %q: %w", m.MediaType, schemas.ErrUnsupported)
	}
	seen := make(map[schemas.IRI]bool, len(m.Graphs))
	for _, e := range m.Graphs {
		if e.Name == "" || seen[e.Name] {
			return nil, fmt.Errorf("manifest lists graph %q more than once or without a name", e.Name)
		}
		if e.File == "" || filepath.Base(e.File) != e.File {
			return nil, fmt.Errorf("manifest entry %s has invalid file %q", e.Name, e.File)
		}
		seen[e.Name] = true
	}
	return &m, nil
}

// Restore recreates the graphs of the backup in dir. With replace, existing
// graphs of the same name are deleted first; without it they make the
// restore fail with schemas.ErrAlreadyExists.
func (s *Service) Restore(ctx context.Context, dir string, replace bool) (*Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, e := range m.Graphs {
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			if err := s.restoreGraph(groupCtx, dir, m.MediaType, e, replace); err != nil {
				return fmt.Errorf("failed to restore %s: %w", e.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.Info("Backup restored", zap.String("dir", dir), zap.String("backup", m.ID), zap.Int("graphs", len(m.Graphs)))
	return m, nil
}

func (s *Service) restoreGraph(ctx context.Context, dir, mediaType string, e Entry, replace bool) error {
	f, err := os.Open(filepath.Join(dir, e.File))
	if err != nil {
		return err
	}
	triples, err := codec.Parse(bufio.NewReader(f), mediaType, nil)
	_ = f.Close()
	if err != nil {
		return err
	}
	if len(triples) != e.Triples {
		return fmt.Errorf("file %s holds %d triples, manifest says %d", e.File, len(triples), e.Triples)
	}

	if replace {
		if err := s.store.DeleteGraph(ctx, e.Name); err != nil && !errors.Is(err, schemas.ErrNotFound) {
			return err
		}
	}
	if e.Immutable {
		_, err := s.store.CreateImmutableGraph(ctx, e.Name, slices.Values(triples))
		return err
	}
	lg, err := s.store.CreateGraph(ctx, e.Name)
	if err != nil {
		return err
	}
	return lg.Update(ctx, func(g schemas.Graph) error {
		_, err := graph.AddAll(g, slices.Values(triples))
		return err
	})
}
