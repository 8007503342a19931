package history

import (
	"context"
	"time"

	"github.com/loykin/agentward/internal/status"
)

// EventType defines the kind of status event.
type EventType string

const (
	// EventReport is a status written by the agent itself.
	EventReport EventType = "report"
	// EventCorrection is a status force-written by the supervisor.
	EventCorrection EventType = "correction"
)

// EventHeader is the request header a writer sets to classify its PATCH.
// The self-hosted server maps its value onto the history event type;
// absent or unknown values are treated as EventReport.
const EventHeader = "X-Agentward-Event"

// Event represents a status change to be exported to external systems.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Record     status.Record `json:"record"`
}

// Sink is a destination for status history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
