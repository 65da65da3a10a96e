package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// Capability kinds with built-in meaning. Any other kind is a custom
// capability that policies match by kind, name and action.
const (
	KindGraph = "graph"
	KindAll   = "all"
)

// Graph actions. Read-write implies read.
const (
	ActionRead      = "read"
	ActionReadWrite = "readwrite"
)

// Capability is something a caller may be permitted to do.
type Capability struct {
	Kind   string
	Action string
	Name   string
}

// AllCapability stands for every capability at once.
var AllCapability = Capability{Kind: KindAll}

// GraphCapability is the default requirement for acting on a graph.
func GraphCapability(name schemas.IRI, action string) Capability {
	return Capability{Kind: KindGraph, Action: action, Name: string(name)}
}

// String renders the capability as "kind action name", the form stored in
// the permission graph.
func (c Capability) String() string {
	return strings.TrimSpace(c.Kind + " " + c.Action + " " + c.Name)
}

// ParseCapability reverses String.
func ParseCapability(s string) (Capability, error) {
	fields := strings.SplitN(strings.TrimSpace(s), " ", 3)
	if fields[0] == "" {
		return Capability{}, fmt.Errorf("empty capability")
	}
	c := Capability{Kind: fields[0]}
	if len(fields) > 1 {
		c.Action = fields[1]
	}
	if len(fields) > 2 {
		c.Name = fields[2]
	}
	return c, nil
}

// Policy answers whether the caller identified by ctx holds a capability.
type Policy interface {
	Permits(ctx context.Context, c Capability) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, c Capability) bool

func (f PolicyFunc) Permits(ctx context.Context, c Capability) bool { return f(ctx, c) }

// MatchName reports whether a graph name pattern covers name. A pattern is
// either an exact IRI or a prefix followed by "*", which covers exactly one
// further non-empty path segment below the prefix.
func MatchName(pattern, name string) bool {
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	if !wildcard {
		return pattern == name
	}
	rest, ok := strings.CutPrefix(name, prefix)
	return ok && rest != "" && !strings.Contains(rest, "/")
}

func actionImplies(granted, requested string) bool {
	if granted == requested || granted == "*" {
		return true
	}
	return granted == ActionReadWrite && requested == ActionRead
}
