package store

import (
	"context"

	"github.com/loykin/agentward/internal/status"
)

// Store persists the agent_status table for the self-hosted server.
// Records are keyed by agent name, upserted in place, and never deleted.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, rec status.Record) error
	// GetByName returns sql.ErrNoRows (wrapped or not) when the agent is unknown.
	GetByName(ctx context.Context, agentName string) (status.Record, error)
	// List returns all records ordered by agent name.
	List(ctx context.Context) ([]status.Record, error)
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite" or "postgres"
	Path string `toml:"path" mapstructure:"path"` // sqlite file path, ":memory:" allowed
	DSN  string `toml:"dsn" mapstructure:"dsn"`   // postgres DSN
}
