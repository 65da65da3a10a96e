package codec

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// BlankNodeScope maps document labels to blank node handles and back for the
// lifetime of one loaded graph. Handles created in memory get a random label
// the first time they are written, and keep it afterwards, so a graph that is
// rewritten in full produces stable labels.
type BlankNodeScope struct {
	mu      sync.Mutex
	byLabel map[string]schemas.BlankNode
	byNode  map[schemas.BlankNode]string
}

func NewBlankNodeScope() *BlankNodeScope {
	return &BlankNodeScope{
		byLabel: make(map[string]schemas.BlankNode),
		byNode:  make(map[schemas.BlankNode]string),
	}
}

// Node returns the handle for label, allocating one on first use.
func (s *BlankNodeScope) Node(label string) schemas.BlankNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.byLabel[label]; ok {
		return b
	}
	b := schemas.NewBlankNode()
	s.byLabel[label] = b
	s.byNode[b] = label
	return b
}

// Label returns the label for b, assigning a fresh one on first use.
func (s *BlankNodeScope) Label(b schemas.BlankNode) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.byNode[b]; ok {
		return l
	}
	l := "b" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.byLabel[l] = b
	s.byNode[b] = l
	return l
}

// Len reports how many blank nodes the scope knows.
func (s *BlankNodeScope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byNode)
}
