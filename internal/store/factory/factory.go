package factory

import (
	"fmt"

	"github.com/loykin/agentward/internal/store"
	"github.com/loykin/agentward/internal/store/postgres"
	"github.com/loykin/agentward/internal/store/sqlite"
)

// New builds a store backend from config. The zero Type defaults to an
// in-memory SQLite database, which is enough for a single-node server.
func New(cfg store.Config) (store.Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return sqlite.New(path)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres store requires dsn")
		}
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
