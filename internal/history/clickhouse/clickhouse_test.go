package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/agentward/internal/history"
	"github.com/loykin/agentward/internal/status"
)

// setupClickHouseContainer starts a ClickHouse container for testing.
// It skips the test when Docker is unavailable.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	dsn := host + ":" + port.Port()
	return clickHouseContainer, dsn
}

func setupSinkWithTable(ctx context.Context, t *testing.T, dsn string, tableName string) *Sink {
	t.Helper()

	sink, err := New(dsn, tableName)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	err = sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			type String,
			occurred_at DateTime64(6),
			agent_name String,
			status String,
			health Int32,
			last_activity String,
			last_error String,
			updated_at DateTime64(6)
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, agent_name)
	`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	return sink
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	clickHouseContainer, dsn := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink := setupSinkWithTable(ctx, t, dsn, "agent_status_history")
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	rec := status.Record{
		AgentName:    "Blog Writing Agent",
		Status:       status.Running,
		Health:       100,
		LastActivity: "Heartbeat",
		UpdatedAt:    time.Now().UTC(),
	}

	reportEvent := history.Event{
		Type:       history.EventReport,
		OccurredAt: time.Now().UTC(),
		Record:     rec,
	}
	if err := sink.Send(ctx, reportEvent); err != nil {
		t.Fatalf("Failed to send report event: %v", err)
	}

	rec.Status = status.Stopped
	rec.Health = 0
	rec.LastActivity = "Automatically stopped (reason: process not running)"
	rec.UpdatedAt = time.Now().UTC()

	correctionEvent := history.Event{
		Type:       history.EventCorrection,
		OccurredAt: rec.UpdatedAt,
		Record:     rec,
	}
	if err := sink.Send(ctx, correctionEvent); err != nil {
		t.Fatalf("Failed to send correction event: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	rows := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM agent_status_history WHERE agent_name = ?", rec.AgentName)
	var count uint64
	if err := rows.Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New("invalid-host:9000", "test_table")
	if err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
