package access

import (
	"context"
	"sync"
)

// GrantSet is a concrete Policy holding the capabilities granted to one
// principal. Graph grants use name patterns (see MatchName); other grants
// match by kind, with "*" as a wildcard for name and action.
type GrantSet struct {
	mu     sync.RWMutex
	all    bool
	grants []Capability
}

// NewGrantSet returns a set holding grants.
func NewGrantSet(grants ...Capability) *GrantSet {
	s := &GrantSet{}
	s.Grant(grants...)
	return s
}

// Grant adds capabilities to the set.
func (s *GrantSet) Grant(grants ...Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range grants {
		if g.Kind == KindAll {
			s.all = true
			continue
		}
		s.grants = append(s.grants, g)
	}
}

func (s *GrantSet) Permits(_ context.Context, c Capability) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.all {
		return true
	}
	if c.Kind == KindAll {
		return false
	}
	for _, g := range s.grants {
		if g.Kind != c.Kind || !actionImplies(g.Action, c.Action) {
			continue
		}
		if c.Kind == KindGraph {
			if MatchName(g.Name, c.Name) {
				return true
			}
			continue
		}
		if g.Name == c.Name || g.Name == "*" {
			return true
		}
	}
	return false
}

type grantsKey struct{}

// WithGrants attaches the caller's grants to ctx.
func WithGrants(ctx context.Context, grants *GrantSet) context.Context {
	return context.WithValue(ctx, grantsKey{}, grants)
}

// GrantsFrom returns the grants attached to ctx.
func GrantsFrom(ctx context.Context) (*GrantSet, bool) {
	g, ok := ctx.Value(grantsKey{}).(*GrantSet)
	return g, ok && g != nil
}

// PrincipalPolicy evaluates the grants carried on the context. Contexts
// without grants fall back to Default, and are denied when Default is nil.
type PrincipalPolicy struct {
	Default Policy
}

func (p PrincipalPolicy) Permits(ctx context.Context, c Capability) bool {
	if grants, ok := GrantsFrom(ctx); ok {
		return grants.Permits(ctx, c)
	}
	if p.Default != nil {
		return p.Default.Permits(ctx, c)
	}
	return false
}
