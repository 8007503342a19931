package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/agentward/internal/status"
)

const fileSuffix = "_status.json"

// Cache is the filesystem-backed last-known-status store, one JSON file
// per agent under Dir. It is a best-effort snapshot, not a journal: every
// write is a full-file overwrite and only the latest value survives.
type Cache struct {
	Dir string
}

func New(dir string) Cache { return Cache{Dir: dir} }

// Path returns the snapshot file for an agent name. Names are normalized
// so agents with spaces in their names are safe on any filesystem.
func (c Cache) Path(agentName string) string {
	return filepath.Join(c.Dir, status.NormalizeName(agentName)+fileSuffix)
}

// Save overwrites the agent's snapshot. Errors are I/O-level only
// (permissions, disk full) and callers must not treat them as fatal.
func (c Cache) Save(rec status.Record) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path(rec.AgentName), b, 0o600)
}

// Load returns the last saved record, or nil if the agent was never saved.
func (c Cache) Load(agentName string) (*status.Record, error) {
	b, err := os.ReadFile(filepath.Clean(c.Path(agentName)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec status.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Names lists the agent-name tokens that have a snapshot on disk.
// The tokens are normalized forms, not the original display names.
func (c Cache) Names() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileSuffix))
	}
	return names, nil
}
