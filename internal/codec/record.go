package codec

import (
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// Term kinds in the record encoding.
const (
	kindIRI     = "i"
	kindBlank   = "b"
	kindLiteral = "l"
)

// termRecord is the stored form of one term. Field order is fixed, so equal
// terms under the same scope always encode to the same string.
type termRecord struct {
	Kind     string `json:"k"`
	Value    string `json:"v"`
	Datatype string `json:"d,omitempty"`
	Language string `json:"l,omitempty"`
}

type tripleRecord struct {
	Subject   termRecord `json:"s"`
	Predicate string     `json:"p"`
	Object    termRecord `json:"o"`
}

func toRecord(t schemas.Term, scope *BlankNodeScope) (termRecord, error) {
	switch v := t.(type) {
	case schemas.IRI:
		return termRecord{Kind: kindIRI, Value: string(v)}, nil
	case schemas.BlankNode:
		return termRecord{Kind: kindBlank, Value: scope.Label(v)}, nil
	case schemas.Literal:
		return termRecord{Kind: kindLiteral, Value: v.Lexical, Datatype: string(v.Datatype), Language: v.Language}, nil
	default:
		return termRecord{}, fmt.Errorf("cannot encode term %v", t)
	}
}

func fromRecord(r termRecord, scope *BlankNodeScope) (schemas.Term, error) {
	switch r.Kind {
	case kindIRI:
		return schemas.IRI(r.Value), nil
	case kindBlank:
		return scope.Node(r.Value), nil
	case kindLiteral:
		if r.Language != "" {
			return schemas.NewLangLiteral(r.Value, r.Language), nil
		}
		return schemas.NewTypedLiteral(r.Value, schemas.IRI(r.Datatype)), nil
	default:
		return nil, fmt.Errorf("unknown term kind %q", r.Kind)
	}
}

// EncodeTerm renders t as a compact JSON record. Blank nodes are written
// with their label in scope.
func EncodeTerm(t schemas.Term, scope *BlankNodeScope) (string, error) {
	r, err := toRecord(t, scope)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding term: %w", err)
	}
	return string(b), nil
}

// DecodeTerm reverses EncodeTerm.
func DecodeTerm(s string, scope *BlankNodeScope) (schemas.Term, error) {
	var r termRecord
	if err := json.UnmarshalFromString(s, &r); err != nil {
		return nil, fmt.Errorf("decoding term: %w", err)
	}
	return fromRecord(r, scope)
}

// EncodeTriple renders t as one JSON record, suitable as a set member.
func EncodeTriple(t schemas.Triple, scope *BlankNodeScope) (string, error) {
	s, err := toRecord(t.Subject, scope)
	if err != nil {
		return "", err
	}
	o, err := toRecord(t.Object, scope)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(tripleRecord{Subject: s, Predicate: string(t.Predicate), Object: o})
	if err != nil {
		return "", fmt.Errorf("encoding triple: %w", err)
	}
	return string(b), nil
}

// DecodeTriple reverses EncodeTriple.
func DecodeTriple(s string, scope *BlankNodeScope) (schemas.Triple, error) {
	var r tripleRecord
	if err := json.UnmarshalFromString(s, &r); err != nil {
		return schemas.Triple{}, fmt.Errorf("decoding triple: %w", err)
	}
	subj, err := fromRecord(r.Subject, scope)
	if err != nil {
		return schemas.Triple{}, err
	}
	sub, ok := subj.(schemas.BlankNodeOrIRI)
	if !ok {
		return schemas.Triple{}, fmt.Errorf("literal in subject position: %s", s)
	}
	obj, err := fromRecord(r.Object, scope)
	if err != nil {
		return schemas.Triple{}, err
	}
	t := schemas.NewTriple(sub, schemas.IRI(r.Predicate), obj)
	return t, t.Validate()
}
