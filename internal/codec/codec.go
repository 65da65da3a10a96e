// Package codec reads and writes graphs in the line-based RDF formats and
// JSON-LD, selected by media type.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/piprate/json-gold/ld"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// Supported media types.
const (
	MediaTypeNTriples = "application/n-triples"
	MediaTypeNQuads   = "application/n-quads"
	MediaTypeJSONLD   = "application/ld+json"
)

const defaultGraph = "@default"

var extensions = map[string]string{
	".nt":     MediaTypeNTriples,
	".nq":     MediaTypeNQuads,
	".jsonld": MediaTypeJSONLD,
	".json":   MediaTypeJSONLD,
}

// MediaTypeForPath picks the media type from the file extension.
func MediaTypeForPath(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mt, ok := extensions[ext]
	if !ok {
		return "", fmt.Errorf("no format for extension %q: %w", ext, schemas.ErrUnsupported)
	}
	return mt, nil
}

// ExtensionFor returns the file extension written for mediaType.
func ExtensionFor(mediaType string) (string, error) {
	switch normalize(mediaType) {
	case MediaTypeNTriples:
		return ".nt", nil
	case MediaTypeNQuads:
		return ".nq", nil
	case MediaTypeJSONLD:
		return ".jsonld", nil
	}
	return "", fmt.Errorf("no extension for %q: %w", mediaType, schemas.ErrUnsupported)
}

// Supported reports whether mediaType can be parsed and serialized.
func Supported(mediaType string) bool {
	switch normalize(mediaType) {
	case MediaTypeNTriples, MediaTypeNQuads, MediaTypeJSONLD:
		return true
	}
	return false
}

// Parse reads a document and returns its triples. Blank node labels are
// resolved through scope, so parsing two documents with the same scope shares
// blank nodes between them. A nil scope gets a fresh one. Quads from every
// named graph of an N-Quads or JSON-LD document are merged.
func Parse(r io.Reader, mediaType string, scope *BlankNodeScope) ([]schemas.Triple, error) {
	if scope == nil {
		scope = NewBlankNodeScope()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}

	var nquads string
	switch normalize(mediaType) {
	case MediaTypeNTriples, MediaTypeNQuads:
		nquads = string(data)
	case MediaTypeJSONLD:
		if nquads, err = jsonLDToNQuads(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("parse %q: %w", mediaType, schemas.ErrUnsupported)
	}

	ds, err := ld.ParseNQuads(nquads)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", mediaType, err)
	}

	var triples []schemas.Triple
	for _, quads := range ds.Graphs {
		for _, q := range quads {
			t, err := fromQuad(q, scope)
			if err != nil {
				return nil, err
			}
			triples = append(triples, t)
		}
	}
	return triples, nil
}

// Serialize writes every triple of g. Blank nodes get their labels from scope;
// a nil scope gets a fresh one.
func Serialize(w io.Writer, g schemas.Graph, mediaType string, scope *BlankNodeScope) error {
	if scope == nil {
		scope = NewBlankNodeScope()
	}
	mt := normalize(mediaType)
	if !Supported(mt) {
		return fmt.Errorf("serialize %q: %w", mediaType, schemas.ErrUnsupported)
	}

	ds := ld.NewRDFDataset()
	var quads []*ld.Quad
	for t := range g.Filter(nil, "", nil) {
		quads = append(quads, toQuad(t, scope))
	}
	ds.Graphs[defaultGraph] = quads

	serializer := &ld.NQuadRDFSerializer{}
	out, err := serializer.Serialize(ds)
	if err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	text, _ := out.(string)

	if mt == MediaTypeJSONLD {
		doc, err := nquadsToJSONLD(text)
		if err != nil {
			return err
		}
		_, err = w.Write(doc)
		return err
	}
	_, err = io.WriteString(w, text)
	return err
}

func jsonLDToNQuads(data []byte) (string, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decoding JSON-LD: %w", err)
	}
	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.Format = MediaTypeNQuads
	out, err := proc.ToRDF(doc, opts)
	if err != nil {
		return "", fmt.Errorf("converting JSON-LD to RDF: %w", err)
	}
	text, _ := out.(string)
	return text, nil
}

func nquadsToJSONLD(nquads string) ([]byte, error) {
	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.Format = MediaTypeNQuads
	doc, err := proc.FromRDF(nquads, opts)
	if err != nil {
		return nil, fmt.Errorf("converting RDF to JSON-LD: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding JSON-LD: %w", err)
	}
	return buf.Bytes(), nil
}

func normalize(mediaType string) string {
	mt, _, _ := strings.Cut(mediaType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "text/plain" {
		return MediaTypeNTriples
	}
	return mt
}

func toQuad(t schemas.Triple, scope *BlankNodeScope) *ld.Quad {
	return ld.NewQuad(toNode(t.Subject, scope), ld.NewIRI(string(t.Predicate)), toNode(t.Object, scope), "")
}

func toNode(term schemas.Term, scope *BlankNodeScope) ld.Node {
	switch v := term.(type) {
	case schemas.IRI:
		return ld.NewIRI(string(v))
	case schemas.BlankNode:
		return ld.NewBlankNode("_:" + scope.Label(v))
	case schemas.Literal:
		return ld.NewLiteral(v.Lexical, string(v.Datatype), v.Language)
	default:
		panic(fmt.Sprintf("codec: unknown term type %T", term))
	}
}

func fromQuad(q *ld.Quad, scope *BlankNodeScope) (schemas.Triple, error) {
	s, err := fromNode(q.Subject, scope)
	if err != nil {
		return schemas.Triple{}, err
	}
	subject, ok := s.(schemas.BlankNodeOrIRI)
	if !ok {
		return schemas.Triple{}, fmt.Errorf("literal %v in subject position", s)
	}
	if !ld.IsIRI(q.Predicate) {
		return schemas.Triple{}, fmt.Errorf("predicate %q is not an IRI", q.Predicate.GetValue())
	}
	o, err := fromNode(q.Object, scope)
	if err != nil {
		return schemas.Triple{}, err
	}
	return schemas.NewTriple(subject, schemas.IRI(q.Predicate.GetValue()), o), nil
}

func fromNode(n ld.Node, scope *BlankNodeScope) (schemas.Term, error) {
	switch {
	case ld.IsIRI(n):
		return schemas.IRI(n.GetValue()), nil
	case ld.IsBlankNode(n):
		return scope.Node(strings.TrimPrefix(n.GetValue(), "_:")), nil
	case ld.IsLiteral(n):
		lit, ok := n.(*ld.Literal)
		if !ok {
			return schemas.NewLiteral(n.GetValue()), nil
		}
		if lit.Language != "" {
			return schemas.NewLangLiteral(lit.Value, lit.Language), nil
		}
		return schemas.NewTypedLiteral(lit.Value, schemas.IRI(lit.Datatype)), nil
	default:
		return nil, fmt.Errorf("unsupported RDF node %v", n)
	}
}
