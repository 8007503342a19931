package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/agentward/internal/status"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_status(
			agent_name TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			health INTEGER NOT NULL,
			last_activity TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_status_status ON agent_status(status);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Upsert(ctx context.Context, rec status.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agent_status(agent_name, status, health, last_activity, last_error, updated_at)
		VALUES($1, $2, $3, $4, $5, $6)
		ON CONFLICT(agent_name) DO UPDATE SET
			status=EXCLUDED.status,
			health=EXCLUDED.health,
			last_activity=EXCLUDED.last_activity,
			last_error=EXCLUDED.last_error,
			updated_at=EXCLUDED.updated_at;`,
		rec.AgentName, string(rec.Status), rec.Health, rec.LastActivity, rec.LastError, rec.UpdatedAt.UTC())
	return err
}

func (p *DB) GetByName(ctx context.Context, agentName string) (status.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT agent_name, status, health, last_activity, last_error, updated_at
		FROM agent_status WHERE agent_name=$1;`, agentName)
	var rec status.Record
	var st string
	if err := row.Scan(&rec.AgentName, &st, &rec.Health, &rec.LastActivity, &rec.LastError, &rec.UpdatedAt); err != nil {
		return status.Record{}, err
	}
	rec.Status = status.Status(st)
	return rec, nil
}

func (p *DB) List(ctx context.Context) ([]status.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT agent_name, status, health, last_activity, last_error, updated_at
		FROM agent_status ORDER BY agent_name ASC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []status.Record
	for rows.Next() {
		var rec status.Record
		var st string
		if err := rows.Scan(&rec.AgentName, &st, &rec.Health, &rec.LastActivity, &rec.LastError, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = status.Status(st)
		out = append(out, rec)
	}
	return out, rows.Err()
}
