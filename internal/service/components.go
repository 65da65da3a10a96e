// File: internal/service/components.go
package service

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/backup"
	"github.com/xkilldash9x/graphstore/internal/registry"
)

// Components holds everything a graphstore command works with. It owns the
// lifecycle of the backends it opened.
type Components struct {
	Registry  *registry.Registry
	Backup    *backup.Service
	Providers []schemas.Provider
	// DBPool is set when the postgres provider runs on a pool this package
	// opened.
	DBPool *pgxpool.Pool

	closers []func()
	logger  *zap.Logger
}

func (c *Components) addCloser(fn func()) {
	if fn != nil {
		c.closers = append(c.closers, fn)
	}
}

// Shutdown releases the registry and then closes backends in the reverse
// order they were opened. It is safe on partially built Components.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop notification goroutines before the backends go away.
	if c.Registry != nil {
		c.Registry.Close()
		logger.Debug("Registry closed.")
	}

	// 2. Close backends, newest first.
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil

	logger.Debug("All components shut down.")
}
