package schemas

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Well-known datatype IRIs.
const (
	XSDString     IRI = "http://www.w3.org/2001/XMLSchema#string"
	XSDInteger    IRI = "http://www.w3.org/2001/XMLSchema#integer"
	XSDBoolean    IRI = "http://www.w3.org/2001/XMLSchema#boolean"
	RDFLangString IRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"
)

// RDF vocabulary used for lists.
const (
	RDFFirst IRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#first"
	RDFRest  IRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#rest"
	RDFNil   IRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#nil"
	RDFType  IRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
)

// Term is an RDF term. The set of implementations is closed: IRI, BlankNode
// and Literal. All three are comparable values, so terms can be used as map
// keys and compared with ==.
type Term interface {
	fmt.Stringer
	isTerm()
}

// BlankNodeOrIRI is a term that can appear in the subject position of a triple.
type BlankNodeOrIRI interface {
	Term
	isSubject()
}

// IRI is an internationalized resource identifier. It names resources and graphs.
type IRI string

func (i IRI) String() string { return "<" + string(i) + ">" }
func (IRI) isTerm()          {}
func (IRI) isSubject()       {}

// blankNodeSeq is the process-wide allocator for blank node handles.
// Handle 0 is never allocated, so the zero BlankNode is distinguishable.
var blankNodeSeq atomic.Uint64

// BlankNode is an opaque handle for an existential node. Two blank nodes are
// equal only if they are the same allocation; label text from a document
// never makes two handles equal.
type BlankNode struct {
	id uint64
}

// NewBlankNode allocates a fresh blank node.
func NewBlankNode() BlankNode {
	return BlankNode{id: blankNodeSeq.Add(1)}
}

// ID returns the handle value. It is stable for the lifetime of the process only.
func (b BlankNode) ID() uint64 { return b.id }

// IsZero reports whether b was never allocated.
func (b BlankNode) IsZero() bool { return b.id == 0 }

func (b BlankNode) String() string { return "_:b" + strconv.FormatUint(b.id, 10) }
func (BlankNode) isTerm()          {}
func (BlankNode) isSubject()       {}

// Literal is a data value. Language is only set for rdf:langString literals
// and is stored lower-cased.
type Literal struct {
	Lexical  string
	Datatype IRI
	Language string
}

// NewLiteral returns a plain xsd:string literal.
func NewLiteral(lexical string) Literal {
	return Literal{Lexical: lexical, Datatype: XSDString}
}

// NewTypedLiteral returns a literal with an explicit datatype. An empty
// datatype defaults to xsd:string.
func NewTypedLiteral(lexical string, datatype IRI) Literal {
	if datatype == "" {
		datatype = XSDString
	}
	return Literal{Lexical: lexical, Datatype: datatype}
}

// NewLangLiteral returns a language-tagged literal.
func NewLangLiteral(lexical, lang string) Literal {
	return Literal{Lexical: lexical, Datatype: RDFLangString, Language: strings.ToLower(lang)}
}

func (l Literal) String() string {
	q := strconv.Quote(l.Lexical)
	switch {
	case l.Language != "":
		return q + "@" + l.Language
	case l.Datatype == "" || l.Datatype == XSDString:
		return q
	default:
		return q + "^^" + l.Datatype.String()
	}
}

func (Literal) isTerm() {}

// IsBlank reports whether t is a blank node.
func IsBlank(t Term) bool {
	_, ok := t.(BlankNode)
	return ok
}
