package schemas

import (
	"errors"
	"fmt"
)

// Triple is a (subject, predicate, object) statement. It is comparable and can
// be used as a map key.
type Triple struct {
	Subject   BlankNodeOrIRI
	Predicate IRI
	Object    Term
}

// NewTriple builds a triple.
func NewTriple(s BlankNodeOrIRI, p IRI, o Term) Triple {
	return Triple{Subject: s, Predicate: p, Object: o}
}

func (t Triple) String() string {
	return fmt.Sprintf("%v %v %v .", t.Subject, t.Predicate, t.Object)
}

// IsGrounded reports whether the triple contains no blank node.
func (t Triple) IsGrounded() bool {
	return !IsBlank(t.Subject) && !IsBlank(t.Object)
}

// Validate rejects triples with a missing position.
func (t Triple) Validate() error {
	switch {
	case t.Subject == nil:
		return errors.New("triple has no subject")
	case t.Predicate == "":
		return errors.New("triple has no predicate")
	case t.Object == nil:
		return errors.New("triple has no object")
	}
	return nil
}

// Pattern selects triples. A nil Subject or Object and an empty Predicate are
// wildcards, so the zero Pattern matches everything.
type Pattern struct {
	Subject   BlankNodeOrIRI
	Predicate IRI
	Object    Term
}

// Matches reports whether t satisfies every bound position of p.
func (p Pattern) Matches(t Triple) bool {
	if p.Subject != nil && p.Subject != t.Subject {
		return false
	}
	if p.Predicate != "" && p.Predicate != t.Predicate {
		return false
	}
	if p.Object != nil && p.Object != t.Object {
		return false
	}
	return true
}
