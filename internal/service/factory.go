// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/backup"
	"github.com/xkilldash9x/graphstore/internal/config"
	"github.com/xkilldash9x/graphstore/internal/providers/file"
	"github.com/xkilldash9x/graphstore/internal/providers/memory"
	"github.com/xkilldash9x/graphstore/internal/providers/postgres"
	"github.com/xkilldash9x/graphstore/internal/providers/redisstore"
	"github.com/xkilldash9x/graphstore/internal/registry"
)

// ComponentFactory builds the Components for a configuration.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// PoolOpener opens the database pool behind the postgres provider. The
// returned function closes it.
type PoolOpener func(ctx context.Context, url string, logger *zap.Logger) (postgres.DBPool, func(), error)

type concreteFactory struct {
	openPool PoolOpener
}

// FactoryOption configures the factory.
type FactoryOption func(*concreteFactory)

// WithPoolOpener replaces the pgxpool based opener.
func WithPoolOpener(fn PoolOpener) FactoryOption {
	return func(f *concreteFactory) { f.openPool = fn }
}

// NewComponentFactory creates the production factory.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create builds the registry, binds every enabled provider and sets up the
// backup service. Anything opened before a failure is closed again.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Access control
	controller, err := InitializeAccessController(cfg.Access, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize access control: %w", err)
		return nil, initializationErr
	}

	// 2. Registry
	regOpts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithTrackedLocks(cfg.Registry.TrackLocks),
		registry.WithAvailabilityHook(func(name schemas.IRI, available bool) {
			logger.Debug("Graph availability changed.", zap.String("graph", string(name)), zap.Bool("available", available))
		}),
	}
	if controller != nil {
		regOpts = append(regOpts, registry.WithAccessController(controller))
	}
	components.Registry = registry.New(regOpts...)

	// 3. Providers
	providers, err := f.createProviders(ctx, cfg.Providers, components, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	for _, p := range providers {
		if err := components.Registry.Bind(ctx, p); err != nil {
			initializationErr = fmt.Errorf("failed to bind provider %s: %w", p.Name(), err)
			return nil, initializationErr
		}
		components.Providers = append(components.Providers, p)
	}

	// 4. Backup
	backupSvc, err := backup.New(components.Registry,
		backup.WithConcurrency(cfg.Backup.Concurrency),
		backup.WithMediaType(cfg.Backup.MediaType),
		backup.WithLogger(logger))
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize backup service: %w", err)
		return nil, initializationErr
	}
	components.Backup = backupSvc

	logger.Info("All components initialized successfully.", zap.Int("providers", len(components.Providers)))
	return components, nil
}

func (f *concreteFactory) createProviders(ctx context.Context, cfg config.ProvidersConfig, components *Components, logger *zap.Logger) ([]schemas.Provider, error) {
	var providers []schemas.Provider

	if cfg.Memory.Enabled {
		protected := make([]schemas.IRI, len(cfg.Memory.Protected))
		for i, n := range cfg.Memory.Protected {
			protected[i] = schemas.IRI(n)
		}
		providers = append(providers, memory.New(
			memory.WithWeight(cfg.Memory.Weight),
			memory.WithPrefixes(cfg.Memory.Prefixes...),
			memory.WithProtected(protected...),
			memory.WithLogger(logger)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.File.IndexPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for graph index: %w", err)
		}
		providers = append(providers, file.New(cfg.File.IndexPath,
			file.WithWeight(cfg.File.Weight),
			file.WithLogger(logger)))
	}

	if cfg.Postgres.Enabled {
		openPool := f.openPool
		if openPool == nil {
			openPool = func(ctx context.Context, url string, logger *zap.Logger) (postgres.DBPool, func(), error) {
				pool, err := InitializePostgresPool(ctx, url, logger)
				if err != nil {
					return nil, nil, err
				}
				components.DBPool = pool
				return pool, pool.Close, nil
			}
		}
		pool, closePool, err := openPool(ctx, cfg.Postgres.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		components.addCloser(closePool)

		pg, err := postgres.New(ctx, pool, logger,
			postgres.WithWeight(cfg.Postgres.Weight),
			postgres.WithOpTimeout(cfg.Postgres.OpTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres provider: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		providers = append(providers, pg)
	}

	if cfg.Redis.Enabled {
		rs, err := redisstore.New(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Prefix,
			redisstore.WithWeight(cfg.Redis.Weight),
			redisstore.WithOpTimeout(cfg.Redis.OpTimeout),
			redisstore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis provider: %w", err)
		}
		components.addCloser(func() {
			if err := rs.Close(); err != nil {
				logger.Warn("Error closing redis client.", zap.Error(err))
			}
		})
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		providers = append(providers, rs)
	}

	return providers, nil
}
