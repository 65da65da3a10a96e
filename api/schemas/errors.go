package schemas

import (
	"errors"
	"fmt"
)

// Domain errors. Callers test for them with errors.Is.
var (
	// ErrNotFound means no provider owns the name, or its backing data is missing.
	ErrNotFound = errors.New("graph not found")
	// ErrAlreadyExists is returned when creating a name that is already owned.
	ErrAlreadyExists = errors.New("graph already exists")
	// ErrUndeletable is a provider's refusal to delete a graph it owns.
	ErrUndeletable = errors.New("graph cannot be deleted")
	// ErrAccessDenied is returned when the caller lacks a required capability.
	// It is checked before existence.
	ErrAccessDenied = errors.New("access denied")
	// ErrReadOnly is returned by every mutator of an immutable or write-blocked graph.
	ErrReadOnly = errors.New("graph is read-only")
	// ErrUnsupported is a provider's refusal to handle a request, e.g. a name
	// outside its scheme or a graph variant it cannot store.
	ErrUnsupported = errors.New("operation not supported")
)

// GraphError annotates a domain error with the operation and graph name.
type GraphError struct {
	Op   string
	Name IRI
	Err  error
}

func (e *GraphError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

// NewGraphError wraps err. It returns nil for a nil err.
func NewGraphError(op string, name IRI, err error) error {
	if err == nil {
		return nil
	}
	return &GraphError{Op: op, Name: name, Err: err}
}
