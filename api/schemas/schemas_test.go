package schemas_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// ============================================================================
// Test Helpers
// ============================================================================

// assertionFailed logs the expected and actual values side by side.
func assertionFailed(t *testing.T, context string, expected interface{}, actual interface{}, details string) {
	t.Helper()
	t.Errorf("\n"+
		"==================================================================\n"+
		"ASSERTION FAILED\n"+
		"==================================================================\n"+
		"Test:    %s\n"+
		"Context: %s\n"+
		"Details: %s\n"+
		"------------------------------------------------------------------\n"+
		"Expected:\n%#v\n"+
		"------------------------------------------------------------------\n"+
		"Actual:\n%#v\n"+
		"==================================================================\n",
		t.Name(), context, details, expected, actual)
}

// ============================================================================
// Test Cases
// ============================================================================

func TestTermStrings(t *testing.T) {
	tests := []struct {
		name     string
		term     schemas.Term
		expected string
	}{
		{"IRI", schemas.IRI("http://example.org/a"), "<http://example.org/a>"},
		{"PlainLiteral", schemas.NewLiteral("hello"), `"hello"`},
		{"EscapedLiteral", schemas.NewLiteral("a \"quoted\"\nline"), `"a \"quoted\"\nline"`},
		{"TypedLiteral", schemas.NewTypedLiteral("42", schemas.XSDInteger), `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{"EmptyDatatypeIsString", schemas.NewTypedLiteral("x", ""), `"x"`},
		{"LangLiteralLowercased", schemas.NewLangLiteral("colour", "en-GB"), `"colour"@en-gb`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if actual := tt.term.String(); actual != tt.expected {
				assertionFailed(t, "Rendering term", tt.expected, actual, "String form mismatch.")
			}
		})
	}
}

func TestBlankNodeIdentity(t *testing.T) {
	a, b := schemas.NewBlankNode(), schemas.NewBlankNode()
	if a == b {
		assertionFailed(t, "Allocating blank nodes", "distinct handles", a, "Two allocations compared equal.")
	}
	if a.IsZero() || !(schemas.BlankNode{}).IsZero() {
		assertionFailed(t, "Checking zero handle", true, a.IsZero(), "Only the zero value reports IsZero.")
	}
	if !schemas.IsBlank(a) || schemas.IsBlank(schemas.IRI("http://example.org/a")) {
		assertionFailed(t, "Classifying terms", true, schemas.IsBlank(a), "IsBlank misclassified a term.")
	}

	// Handles are usable as map keys.
	seen := map[schemas.Term]int{a: 1, b: 2}
	if seen[a] != 1 || seen[b] != 2 {
		assertionFailed(t, "Keying by blank node", map[string]int{"a": 1, "b": 2}, seen, "Map lookup mismatch.")
	}
}

func TestLiteralEquality(t *testing.T) {
	if schemas.NewLiteral("1") != schemas.NewTypedLiteral("1", schemas.XSDString) {
		assertionFailed(t, "Comparing string literals", true, false, "A plain literal is an xsd:string literal.")
	}
	if schemas.NewLiteral("1") == schemas.NewTypedLiteral("1", schemas.XSDInteger) {
		assertionFailed(t, "Comparing typed literals", false, true, "Datatype takes part in equality.")
	}
	if schemas.NewLangLiteral("a", "EN") != schemas.NewLangLiteral("a", "en") {
		assertionFailed(t, "Comparing language tags", true, false, "Language tags compare case-insensitively.")
	}
}

func TestTripleValidate(t *testing.T) {
	s := schemas.IRI("http://example.org/s")
	tests := []struct {
		name        string
		triple      schemas.Triple
		expectError bool
	}{
		{"Complete", schemas.NewTriple(s, "http://example.org/p", schemas.NewLiteral("o")), false},
		{"NoSubject", schemas.Triple{Predicate: "http://example.org/p", Object: s}, true},
		{"NoPredicate", schemas.Triple{Subject: s, Object: s}, true},
		{"NoObject", schemas.Triple{Subject: s, Predicate: "http://example.org/p"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.triple.Validate()
			if (err != nil) != tt.expectError {
				assertionFailed(t, "Validating triple", tt.expectError, err, "Unexpected validation result.")
			}
		})
	}
}

func TestTripleIsGrounded(t *testing.T) {
	s := schemas.IRI("http://example.org/s")
	bn := schemas.NewBlankNode()
	if !schemas.NewTriple(s, "http://example.org/p", s).IsGrounded() {
		assertionFailed(t, "Grounded triple", true, false, "A triple without blank nodes is grounded.")
	}
	if schemas.NewTriple(bn, "http://example.org/p", s).IsGrounded() {
		assertionFailed(t, "Blank subject", false, true, "A blank subject is not grounded.")
	}
	if schemas.NewTriple(s, "http://example.org/p", bn).IsGrounded() {
		assertionFailed(t, "Blank object", false, true, "A blank object is not grounded.")
	}
}

func TestPatternMatches(t *testing.T) {
	s := schemas.IRI("http://example.org/s")
	p := schemas.IRI("http://example.org/p")
	o := schemas.NewLiteral("o")
	triple := schemas.NewTriple(s, p, o)

	tests := []struct {
		name     string
		pattern  schemas.Pattern
		expected bool
	}{
		{"ZeroMatchesAll", schemas.Pattern{}, true},
		{"Subject", schemas.Pattern{Subject: s}, true},
		{"OtherSubject", schemas.Pattern{Subject: schemas.IRI("http://example.org/x")}, false},
		{"Predicate", schemas.Pattern{Predicate: p}, true},
		{"OtherPredicate", schemas.Pattern{Predicate: "http://example.org/q"}, false},
		{"Object", schemas.Pattern{Object: o}, true},
		{"ObjectDatatypeDiffers", schemas.Pattern{Object: schemas.NewTypedLiteral("o", schemas.XSDInteger)}, false},
		{"AllBound", schemas.Pattern{Subject: s, Predicate: p, Object: o}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if actual := tt.pattern.Matches(triple); actual != tt.expected {
				assertionFailed(t, "Matching pattern", tt.expected, actual, fmt.Sprintf("Pattern %+v against %v.", tt.pattern, triple))
			}
		})
	}
}

func TestGraphError(t *testing.T) {
	if schemas.NewGraphError("delete", "http://example.org/g", nil) != nil {
		assertionFailed(t, "Wrapping nil", nil, "non-nil", "A nil error stays nil.")
	}

	err := schemas.NewGraphError("delete", "http://example.org/g", schemas.ErrUndeletable)
	if !errors.Is(err, schemas.ErrUndeletable) {
		assertionFailed(t, "Unwrapping", schemas.ErrUndeletable, err, "errors.Is must see the domain error.")
	}
	expected := "delete http://example.org/g: graph cannot be deleted"
	if err.Error() != expected {
		assertionFailed(t, "Formatting with name", expected, err.Error(), "Message mismatch.")
	}

	var ge *schemas.GraphError
	if !errors.As(fmt.Errorf("outer: %w", err), &ge) || ge.Op != "delete" {
		assertionFailed(t, "errors.As through wrapping", "delete", ge, "GraphError not recovered.")
	}

	unnamed := schemas.NewGraphError("list", "", schemas.ErrAccessDenied)
	if unnamed.Error() != "list: access denied" {
		assertionFailed(t, "Formatting without name", "list: access denied", unnamed.Error(), "Message mismatch.")
	}
}

func TestEventTypeString(t *testing.T) {
	tests := map[schemas.EventType]string{
		schemas.EventAdd:    "add",
		schemas.EventRemove: "remove",
		schemas.EventType(0): "unknown",
	}
	for typ, expected := range tests {
		if actual := typ.String(); actual != expected {
			assertionFailed(t, "Naming event type", expected, actual, "EventType.String mismatch.")
		}
	}
}

func TestListenerFunc(t *testing.T) {
	var got []schemas.Event
	var l schemas.Listener = schemas.ListenerFunc(func(events []schemas.Event) { got = events })
	want := []schemas.Event{{Type: schemas.EventAdd, Triple: schemas.NewTriple(schemas.IRI("http://example.org/s"), "http://example.org/p", schemas.NewLiteral("o"))}}
	l.GraphChanged(want)
	if len(got) != 1 || got[0] != want[0] {
		assertionFailed(t, "Adapting a function", want, got, "ListenerFunc did not forward the batch.")
	}
}
