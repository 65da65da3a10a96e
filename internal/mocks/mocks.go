// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/access"
)

// -- Provider Mock --

// MockProvider mocks schemas.Provider.
type MockProvider struct {
	mock.Mock
}

var _ schemas.Provider = (*MockProvider)(nil)

func (m *MockProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) Weight() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockProvider) GetGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	args := m.Called(ctx, name)
	g, _ := args.Get(0).(schemas.Graph)
	return g, args.Error(1)
}

func (m *MockProvider) GetMutableGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	args := m.Called(ctx, name)
	g, _ := args.Get(0).(schemas.Graph)
	return g, args.Error(1)
}

func (m *MockProvider) CreateGraph(ctx context.Context, name schemas.IRI) (schemas.Graph, error) {
	args := m.Called(ctx, name)
	g, _ := args.Get(0).(schemas.Graph)
	return g, args.Error(1)
}

func (m *MockProvider) CreateImmutableGraph(ctx context.Context, name schemas.IRI, triples iter.Seq[schemas.Triple]) (schemas.Graph, error) {
	args := m.Called(ctx, name, triples)
	g, _ := args.Get(0).(schemas.Graph)
	return g, args.Error(1)
}

func (m *MockProvider) DeleteGraph(ctx context.Context, name schemas.IRI) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockProvider) ListGraphs(ctx context.Context) ([]schemas.IRI, error) {
	args := m.Called(ctx)
	names, _ := args.Get(0).([]schemas.IRI)
	return names, args.Error(1)
}

func (m *MockProvider) ListMutableGraphs(ctx context.Context) ([]schemas.IRI, error) {
	args := m.Called(ctx)
	names, _ := args.Get(0).([]schemas.IRI)
	return names, args.Error(1)
}

func (m *MockProvider) ListImmutableGraphs(ctx context.Context) ([]schemas.IRI, error) {
	args := m.Called(ctx)
	names, _ := args.Get(0).([]schemas.IRI)
	return names, args.Error(1)
}

// -- Policy Mock --

// MockPolicy mocks access.Policy.
type MockPolicy struct {
	mock.Mock
}

var _ access.Policy = (*MockPolicy)(nil)

func (m *MockPolicy) Permits(ctx context.Context, c access.Capability) bool {
	args := m.Called(ctx, c)
	return args.Bool(0)
}
