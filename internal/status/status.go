package status

import (
	"fmt"
	"strings"
	"time"
)

// Status is the reported lifecycle state of an agent.
type Status string

const (
	Running Status = "running"
	Warning Status = "warning"
	Error   Status = "error"
	Stopped Status = "stopped"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case Running, Warning, Error, Stopped:
		return true
	}
	return false
}

// Record is the unit of truth for one agent in the agent_status table.
// AgentName is a stable, operator-assigned key; it is never generated.
// LastError is only meaningful when Status is Error.
// A reader must tolerate missing optional fields.
type Record struct {
	AgentName    string    `json:"agent_name"`
	Status       Status    `json:"status"`
	Health       int       `json:"health"`
	LastActivity string    `json:"last_activity,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate rejects programmer-error inputs before any store is touched.
func Validate(s Status, health int) error {
	if !s.Valid() {
		return fmt.Errorf("invalid status %q: must be one of running, warning, error, stopped", s)
	}
	if health < 0 || health > 100 {
		return fmt.Errorf("invalid health %d: must be between 0 and 100", health)
	}
	return nil
}

// Validate checks the record's status and health range.
func (r Record) Validate() error {
	if r.AgentName == "" {
		return fmt.Errorf("agent_name required")
	}
	return Validate(r.Status, r.Health)
}

// NormalizeName derives a filesystem-safe token from an agent name.
// "Tweet Scraping Agent" becomes "tweet_scraping_agent".
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
