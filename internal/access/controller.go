// Package access decides whether a caller may read or write a named graph.
//
// The required capabilities for a graph are stored as RDF lists in the
// permission graph. When a graph has no entry, the caller needs the default
// graph capability for the name and action.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// PermissionGraph holds the required capability lists. It is readable by
// everyone; writing it needs read-write capability on it.
const PermissionGraph schemas.IRI = "urn:x-localinstance:/graph-access.graph"

const ontologyNamespace = "http://clerezza.apache.org/2010/07/10/graphpermssions#"

// Properties linking a graph name, or a name pattern, to its capability list.
const (
	ReadPermissionList      schemas.IRI = ontologyNamespace + "readPermissionList"
	ReadWritePermissionList schemas.IRI = ontologyNamespace + "readWritePermissionList"
)

// GraphSource gives the controller access to the permission graph.
type GraphSource interface {
	GetMutableGraph(ctx context.Context, name schemas.IRI) (schemas.LockableGraph, error)
	CreateGraph(ctx context.Context, name schemas.IRI) (schemas.LockableGraph, error)
}

type cacheKey struct {
	name     schemas.IRI
	property schemas.IRI
}

// Controller checks capabilities before graph access.
type Controller struct {
	policy Policy
	logger *zap.Logger

	mu         sync.Mutex
	source     GraphSource
	cache      map[cacheKey][]Capability
	watched    schemas.LockableGraph
	watchSubID string
}

// NewController creates a controller. A nil policy permits everything.
func NewController(policy Policy, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		policy: policy,
		logger: logger.Named("access"),
		cache:  make(map[cacheKey][]Capability),
	}
}

// Attach sets the source of the permission graph. The registry attaches
// itself when it is created.
func (c *Controller) Attach(src GraphSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = src
}

// Policy returns the policy the controller evaluates.
func (c *Controller) Policy() Policy { return c.policy }

// CheckRead fails with schemas.ErrAccessDenied unless the caller may read name.
func (c *Controller) CheckRead(ctx context.Context, name schemas.IRI) error {
	if name == PermissionGraph {
		return nil
	}
	return c.check(ctx, name, ActionRead, ReadPermissionList)
}

// CheckReadWrite fails with schemas.ErrAccessDenied unless the caller may
// read and write name.
func (c *Controller) CheckReadWrite(ctx context.Context, name schemas.IRI) error {
	if name == PermissionGraph {
		if c.permits(ctx, GraphCapability(name, ActionReadWrite)) {
			return nil
		}
		return c.denied(name, ActionReadWrite, GraphCapability(name, ActionReadWrite))
	}
	return c.check(ctx, name, ActionReadWrite, ReadWritePermissionList)
}

// Check dispatches on action, which must be ActionRead or ActionReadWrite.
func (c *Controller) Check(ctx context.Context, name schemas.IRI, action string) error {
	switch action {
	case ActionRead:
		return c.CheckRead(ctx, name)
	case ActionReadWrite:
		return c.CheckReadWrite(ctx, name)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// Permits reports whether the caller holds every given capability.
func (c *Controller) Permits(ctx context.Context, caps ...Capability) bool {
	for _, cp := range caps {
		if !c.permits(ctx, cp) {
			return false
		}
	}
	return true
}

func (c *Controller) check(ctx context.Context, name schemas.IRI, action string, property schemas.IRI) error {
	if c.policy == nil || c.policy.Permits(ctx, AllCapability) {
		return nil
	}
	required, err := c.required(ctx, name, property)
	if err != nil {
		return err
	}
	if len(required) == 0 {
		required = []Capability{GraphCapability(name, action)}
	}
	for _, cp := range required {
		if !c.policy.Permits(ctx, cp) {
			return c.denied(name, action, cp)
		}
	}
	return nil
}

func (c *Controller) permits(ctx context.Context, cp Capability) bool {
	return c.policy == nil || c.policy.Permits(ctx, AllCapability) || c.policy.Permits(ctx, cp)
}

func (c *Controller) denied(name schemas.IRI, action string, missing Capability) error {
	c.logger.Debug("Access denied",
		zap.String("graph", string(name)),
		zap.String("action", action),
		zap.Stringer("missing", missing))
	return &schemas.GraphError{Op: "check " + action, Name: name, Err: schemas.ErrAccessDenied}
}

// RequiredRead returns the custom capabilities needed to read name, or nil
// when the graph has no entry.
func (c *Controller) RequiredRead(ctx context.Context, name schemas.IRI) ([]Capability, error) {
	return c.required(ctx, name, ReadPermissionList)
}

// RequiredReadWrite returns the custom capabilities needed to write name, or
// nil when the graph has no entry.
func (c *Controller) RequiredReadWrite(ctx context.Context, name schemas.IRI) ([]Capability, error) {
	return c.required(ctx, name, ReadWritePermissionList)
}

// SetRequiredRead replaces the read capability list of name, which may be a
// pattern ending in "*". The caller needs read-write on the permission graph.
func (c *Controller) SetRequiredRead(ctx context.Context, name schemas.IRI, caps []Capability) error {
	return c.setRequired(ctx, name, ReadPermissionList, caps)
}

// SetRequiredReadWrite replaces the read-write capability list of name.
func (c *Controller) SetRequiredReadWrite(ctx context.Context, name schemas.IRI, caps []Capability) error {
	return c.setRequired(ctx, name, ReadWritePermissionList, caps)
}

func (c *Controller) required(ctx context.Context, name, property schemas.IRI) ([]Capability, error) {
	key := cacheKey{name: name, property: property}
	c.mu.Lock()
	caps, cached := c.cache[key]
	src := c.source
	c.mu.Unlock()
	if cached || src == nil {
		return caps, nil
	}

	g, err := src.GetMutableGraph(ctx, PermissionGraph)
	if errors.Is(err, schemas.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading permission graph: %w", err)
	}

	err = g.View(ctx, func(pg schemas.Graph) error {
		list, ok := findEntry(pg, name, property)
		if !ok {
			return nil
		}
		strs, err := readList(pg, list)
		if err != nil {
			return err
		}
		for _, s := range strs {
			cp, err := ParseCapability(s)
			if err != nil {
				return err
			}
			caps = append(caps, cp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading permissions of %s: %w", name, err)
	}

	c.mu.Lock()
	c.cache[key] = caps
	c.watch(g)
	c.mu.Unlock()
	return caps, nil
}

func (c *Controller) setRequired(ctx context.Context, name, property schemas.IRI, caps []Capability) error {
	if err := c.CheckReadWrite(ctx, PermissionGraph); err != nil {
		return err
	}
	c.mu.Lock()
	src := c.source
	c.mu.Unlock()
	if src == nil {
		return errors.New("access controller has no graph source")
	}

	g, err := src.GetMutableGraph(ctx, PermissionGraph)
	if errors.Is(err, schemas.ErrNotFound) {
		g, err = src.CreateGraph(ctx, PermissionGraph)
	}
	if err != nil {
		return fmt.Errorf("opening permission graph: %w", err)
	}

	err = g.Update(ctx, func(pg schemas.Graph) error {
		if err := removeEntry(pg, name, property); err != nil {
			return err
		}
		strs := make([]string, len(caps))
		for i, cp := range caps {
			strs[i] = cp.String()
		}
		head, err := writeList(pg, strs)
		if err != nil {
			return err
		}
		_, err = pg.Add(schemas.NewTriple(name, property, head))
		return err
	})
	if err != nil {
		return fmt.Errorf("storing permissions of %s: %w", name, err)
	}

	c.Invalidate()
	c.logger.Info("Required capabilities updated",
		zap.String("graph", string(name)),
		zap.String("property", string(property)),
		zap.Int("count", len(caps)))
	return nil
}

// Invalidate drops every cached capability list.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.cache)
}

// watch subscribes to the permission graph so that edits made directly to it
// clear the cache. Called with c.mu held.
func (c *Controller) watch(g schemas.LockableGraph) {
	if c.watched == g {
		return
	}
	if c.watched != nil {
		c.watched.Unsubscribe(c.watchSubID)
	}
	c.watched = g
	c.watchSubID = g.Subscribe(schemas.ListenerFunc(func([]schemas.Event) {
		c.Invalidate()
	}), schemas.Pattern{}, 0)
}

// findEntry returns the list head for name, preferring an exact entry over
// the longest matching pattern entry.
func findEntry(pg schemas.Graph, name, property schemas.IRI) (schemas.Term, bool) {
	for t := range pg.Filter(name, property, nil) {
		return t.Object, true
	}
	var best schemas.Term
	bestLen := -1
	for t := range pg.Filter(nil, property, nil) {
		pattern, ok := t.Subject.(schemas.IRI)
		if !ok || !strings.HasSuffix(string(pattern), "*") {
			continue
		}
		if MatchName(string(pattern), string(name)) && len(pattern) > bestLen {
			best, bestLen = t.Object, len(pattern)
		}
	}
	return best, bestLen >= 0
}

func readList(pg schemas.Graph, head schemas.Term) ([]string, error) {
	var out []string
	seen := make(map[schemas.Term]bool)
	for head != schemas.RDFNil {
		node, ok := head.(schemas.BlankNodeOrIRI)
		if !ok || seen[head] {
			return nil, fmt.Errorf("malformed capability list at %v", head)
		}
		seen[head] = true

		var first, rest schemas.Term
		for t := range pg.Filter(node, schemas.RDFFirst, nil) {
			first = t.Object
			break
		}
		for t := range pg.Filter(node, schemas.RDFRest, nil) {
			rest = t.Object
			break
		}
		lit, ok := first.(schemas.Literal)
		if !ok || rest == nil {
			return nil, fmt.Errorf("malformed capability list at %v", head)
		}
		out = append(out, lit.Lexical)
		head = rest
	}
	return out, nil
}

func writeList(pg schemas.Graph, values []string) (schemas.BlankNodeOrIRI, error) {
	var head schemas.BlankNodeOrIRI = schemas.RDFNil
	for i := len(values) - 1; i >= 0; i-- {
		node := schemas.NewBlankNode()
		if _, err := pg.Add(schemas.NewTriple(node, schemas.RDFFirst, schemas.NewLiteral(values[i]))); err != nil {
			return nil, err
		}
		if _, err := pg.Add(schemas.NewTriple(node, schemas.RDFRest, head)); err != nil {
			return nil, err
		}
		head = node
	}
	return head, nil
}

func removeEntry(pg schemas.Graph, name, property schemas.IRI) error {
	var entries []schemas.Triple
	for t := range pg.Filter(name, property, nil) {
		entries = append(entries, t)
	}
	for _, e := range entries {
		if err := removeList(pg, e.Object); err != nil {
			return err
		}
		if _, err := pg.Remove(e); err != nil {
			return err
		}
	}
	return nil
}

func removeList(pg schemas.Graph, head schemas.Term) error {
	for head != schemas.RDFNil {
		node, ok := head.(schemas.BlankNodeOrIRI)
		if !ok {
			return nil
		}
		var next schemas.Term = schemas.RDFNil
		var doomed []schemas.Triple
		for t := range pg.Filter(node, "", nil) {
			if t.Predicate == schemas.RDFRest {
				next = t.Object
			}
			if t.Predicate == schemas.RDFRest || t.Predicate == schemas.RDFFirst {
				doomed = append(doomed, t)
			}
		}
		if len(doomed) == 0 {
			return nil
		}
		for _, t := range doomed {
			if _, err := pg.Remove(t); err != nil {
				return err
			}
		}
		head = next
	}
	return nil
}
