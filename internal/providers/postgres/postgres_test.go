package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/codec"
	"github.com/xkilldash9x/graphstore/internal/graph"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	graphName schemas.IRI = "http://example.org/graph"
	alice     schemas.IRI = "http://example.org/alice"
	name      schemas.IRI = "http://xmlns.com/foaf/0.1/name"
)

var aliceName = schemas.NewTriple(alice, name, schemas.NewLiteral("Alice"))

func encoded(t *testing.T, term schemas.Term) string {
	t.Helper()
	s, err := codec.EncodeTerm(term, codec.NewBlankNodeScope())
	require.NoError(t, err)
	return s
}

func newMockProvider(t *testing.T, logger *zap.Logger) (*Provider, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	p, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return p, mockPool
}

func TestNew(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create the schema", func(t *testing.T) {
		p, mockPool := newMockProvider(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(Schema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

		require.NoError(t, p.Migrate(context.Background()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestCreateGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert the graph row and write triples through", func(t *testing.T) {
		p, mockPool := newMockProvider(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertGraph)).
			WithArgs(string(graphName), false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertTriple)).
			WithArgs(string(graphName), encoded(t, alice), string(name), encoded(t, schemas.NewLiteral("Alice"))).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteTriple)).
			WithArgs(string(graphName), encoded(t, alice), string(name), encoded(t, schemas.NewLiteral("Alice"))).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		g, err := p.CreateGraph(ctx, graphName)
		require.NoError(t, err)
		added, err := g.Add(aliceName)
		require.NoError(t, err)
		assert.True(t, added)

		// A duplicate add does not reach the database.
		added, err = g.Add(aliceName)
		require.NoError(t, err)
		assert.False(t, added)

		removed, err := g.Remove(aliceName)
		require.NoError(t, err)
		assert.True(t, removed)

		same, err := p.GetMutableGraph(ctx, graphName)
		require.NoError(t, err)
		assert.Same(t, g, same, "loaded graphs are not reloaded")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report existing names", func(t *testing.T) {
		p, mockPool := newMockProvider(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertGraph)).
			WithArgs(string(graphName), false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		_, err := p.CreateGraph(ctx, graphName)
		assert.ErrorIs(t, err, schemas.ErrAlreadyExists)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should undo an add the database rejects", func(t *testing.T) {
		p, mockPool := newMockProvider(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertGraph)).
			WithArgs(string(graphName), false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertTriple)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(dbErr)

		g, err := p.CreateGraph(ctx, graphName)
		require.NoError(t, err)
		_, err = g.Add(aliceName)
		assert.ErrorIs(t, err, dbErr)
		assert.Equal(t, 0, g.Size())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetMutableGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("should load stored triples", func(t *testing.T) {
		p, mockPool := newMockProvider(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGraphKind)).
			WithArgs(string(graphName)).
			WillReturnRows(pgxmock.NewRows([]string{"immutable"}).AddRow(false))
		blank := `{"k":"b","v":"b1"}`
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectTriples)).
			WithArgs(string(graphName)).
			WillReturnRows(pgxmock.NewRows([]string{"subject", "predicate", "object"}).
				AddRow(encoded(t, alice), string(name), encoded(t, schemas.NewLiteral("Alice"))).
				AddRow(encoded(t, alice), "http://xmlns.com/foaf/0.1/knows", blank).
				AddRow(blank, string(name), encoded(t, schemas.NewLangLiteral("Bob", "en"))))

		g, err := p.GetMutableGraph(ctx, graphName)
		require.NoError(t, err)
		assert.Equal(t, 3, g.Size())
		assert.True(t, g.Contains(aliceName))
		assert.Len(t, graph.BlankNodes(g), 1, "one label maps to one blank node")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report missing and immutable names as not found", func(t *testing.T) {
		p, mockPool := newMockProvider(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGraphKind)).
			WithArgs(string(graphName)).
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGraphKind)).
			WithArgs("http://example.org/frozen").
			WillReturnRows(pgxmock.NewRows([]string{"immutable"}).AddRow(true))

		_, err := p.GetMutableGraph(ctx, graphName)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		_, err = p.GetMutableGraph(ctx, "http://example.org/frozen")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestCreateImmutableGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("should copy triples inside a transaction", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		p, mockPool := newMockProvider(t, zap.New(observedZapCore))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertGraph)).
			WithArgs(string(graphName), true, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{tripleTable}, tripleColumns).WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		src := graph.NewSimpleGraph(aliceName, schemas.NewTriple(alice, name, schemas.NewLiteral("Ally")))
		g, err := p.CreateImmutableGraph(ctx, graphName, graph.All(src))
		require.NoError(t, err)
		assert.True(t, g.ReadOnly())
		assert.Equal(t, 2, g.Size())

		stored, err := p.GetGraph(ctx, graphName)
		require.NoError(t, err)
		assert.Same(t, g, stored)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back when the name exists", func(t *testing.T) {
		p, mockPool := newMockProvider(t, zap.NewNop())
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertGraph)).
			WithArgs(string(graphName), true, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mockPool.ExpectRollback()

		_, err := p.CreateImmutableGraph(ctx, graphName, graph.All(graph.NewSimpleGraph(aliceName)))
		assert.ErrorIs(t, err, schemas.ErrAlreadyExists)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestDeleteAndList(t *testing.T) {
	ctx := context.Background()
	p, mockPool := newMockProvider(t, zap.NewNop())

	mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteGraph)).
		WithArgs(string(graphName)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteGraph)).
		WithArgs(string(graphName)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlListGraphs)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("http://example.org/a").AddRow("http://example.org/b"))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlListByKind)).
		WithArgs(true).
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	require.NoError(t, p.DeleteGraph(ctx, graphName))
	assert.ErrorIs(t, p.DeleteGraph(ctx, graphName), schemas.ErrNotFound)

	names, err := p.ListGraphs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schemas.IRI{"http://example.org/a", "http://example.org/b"}, names)

	names, err = p.ListImmutableGraphs(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
