package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loykin/agentward/internal/status"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgresContainer starts a PostgreSQL container for tests
// and returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}

	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	// Ping until timeout; the container can report ready before the DB accepts connections.
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresUpsertAndRead(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	now := time.Now().UTC()
	rec := status.Record{AgentName: "Hot Topic Agent", Status: status.Running, Health: 100, LastActivity: "Agent started", UpdatedAt: now}
	if err := db.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert running: %v", err)
	}
	got, err := db.GetByName(ctx, "Hot Topic Agent")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.Status != status.Running || got.Health != 100 {
		t.Fatalf("unexpected record: %+v", got)
	}

	rec2 := status.Record{AgentName: "Hot Topic Agent", Status: status.Error, Health: 20, LastActivity: "Error occurred", LastError: "boom", UpdatedAt: time.Now().UTC()}
	if err := db.Upsert(ctx, rec2); err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	got2, err := db.GetByName(ctx, "Hot Topic Agent")
	if err != nil {
		t.Fatalf("get by name2: %v", err)
	}
	if got2.Status != status.Error || got2.LastError != "boom" {
		t.Fatalf("expected error/boom, got %+v", got2)
	}

	if _, err := db.GetByName(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing agent, got %v", err)
	}

	list, err := db.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].AgentName != "Hot Topic Agent" {
		t.Fatalf("unexpected list: %+v", list)
	}
}
