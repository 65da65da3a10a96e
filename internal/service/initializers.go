// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/internal/access"
	"github.com/xkilldash9x/graphstore/internal/config"
)

// InitializePostgresPool opens and verifies a connection pool.
func InitializePostgresPool(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Debug("PostgreSQL connection pool initialized.", zap.String("host", poolConfig.ConnConfig.Host))
	return pool, nil
}

// InitializeAccessController builds the controller for cfg. It returns nil
// when access control is disabled, which leaves every call permitted.
//
// Callers that attach grants to their context with access.WithGrants are
// judged by those; everyone else gets the configured default grants.
func InitializeAccessController(cfg config.AccessConfig, logger *zap.Logger) (*access.Controller, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	grants, err := cfg.Grants()
	if err != nil {
		return nil, err
	}
	policy := access.PrincipalPolicy{Default: access.NewGrantSet(grants...)}
	logger.Info("Access control enabled.", zap.Int("default_grants", len(grants)))
	return access.NewController(policy, logger), nil
}
