package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/loykin/agentward/internal/history"
	"github.com/loykin/agentward/internal/status"
)

// Default request budget, mirrored from the reference deployment.
const (
	DefaultTimeout       = 5 * time.Second
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = time.Second
)

const tablePath = "/agent_status"

// Config holds client configuration for the remote agent_status table.
// APIKey is sent both as the apikey header and as a bearer credential;
// provisioning it is a deployment precondition, not something the client
// manages.
type Config struct {
	BaseURL       string        // e.g. https://proj.example.co/rest/v1
	APIKey        string
	Timeout       time.Duration // per-attempt request timeout
	MaxAttempts   int           // total patch attempts including the first
	RetryInterval time.Duration // backoff base; doubles each retry
	Logger        *slog.Logger
}

// Store is an HTTP client over the REST-style agent_status table. Writes
// are idempotent upserts filtered by exact agent name; the caller cannot
// distinguish failure classes beyond "did not succeed after retries".
type Store struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxAttempts int
	retryBase   time.Duration
	logger      *slog.Logger
}

func New(cfg Config) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		client:      &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryInterval,
		logger:      cfg.Logger,
	}
}

// Patch upserts the record for rec.AgentName. It retries transient
// failures with exponential backoff and surfaces an error only after all
// attempts are exhausted.
func (s *Store) Patch(ctx context.Context, rec status.Record) error {
	return s.patch(ctx, rec, "")
}

// PatchCorrection upserts a supervisor-forced record. The write is
// identical to Patch except for the event classification header, which a
// history-aware server uses to record the change as a correction.
func (s *Store) PatchCorrection(ctx context.Context, rec status.Record) error {
	return s.patch(ctx, rec, string(history.EventCorrection))
}

func (s *Store) patch(ctx context.Context, rec status.Record, event string) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := s.patchOnce(ctx, rec.AgentName, body, event); err != nil {
			s.logger.Warn("agent status update failed",
				"agent", rec.AgentName, "attempt", attempt, "max", s.maxAttempts, "error", err)
			return err
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxAttempts-1)), ctx))
}

func (s *Store) patchOnce(ctx context.Context, agentName string, body []byte, event string) error {
	u := s.tableURL(url.Values{"agent_name": {"eq." + agentName}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Prefer", "return=minimal")
	if event != "" {
		req.Header.Set(history.EventHeader, event)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Get performs a single-attempt point read. It returns nil when the agent
// has no record.
func (s *Store) Get(ctx context.Context, agentName string) (*status.Record, error) {
	recs, err := s.query(ctx, url.Values{
		"agent_name": {"eq." + agentName},
		"select":     {"*"},
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// List enumerates all known agents, ordered by name.
func (s *Store) List(ctx context.Context) ([]status.Record, error) {
	return s.query(ctx, url.Values{
		"select": {"*"},
		"order":  {"agent_name.asc"},
	})
}

func (s *Store) query(ctx context.Context, params url.Values) ([]status.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.tableURL(params), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var recs []status.Record
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return recs, nil
}

func (s *Store) tableURL(params url.Values) string {
	return s.baseURL + tablePath + "?" + params.Encode()
}

func (s *Store) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}
