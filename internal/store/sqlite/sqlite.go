package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/agentward/internal/status"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_status(
			agent_name TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			health INTEGER NOT NULL,
			last_activity TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_status_status ON agent_status(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Upsert(ctx context.Context, rec status.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_status(agent_name, status, health, last_activity, last_error, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			status=excluded.status,
			health=excluded.health,
			last_activity=excluded.last_activity,
			last_error=excluded.last_error,
			updated_at=excluded.updated_at;`,
		rec.AgentName, string(rec.Status), rec.Health, rec.LastActivity, rec.LastError, rec.UpdatedAt.UTC())
	return err
}

func (s *DB) GetByName(ctx context.Context, agentName string) (status.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_name, status, health, last_activity, last_error, updated_at
		FROM agent_status WHERE agent_name=?;`, agentName)
	return scanRecord(row)
}

func (s *DB) List(ctx context.Context) ([]status.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_name, status, health, last_activity, last_error, updated_at
		FROM agent_status ORDER BY agent_name ASC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []status.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (status.Record, error) {
	var rec status.Record
	var st string
	if err := sc.Scan(&rec.AgentName, &st, &rec.Health, &rec.LastActivity, &rec.LastError, &rec.UpdatedAt); err != nil {
		return status.Record{}, err
	}
	rec.Status = status.Status(st)
	return rec, nil
}
