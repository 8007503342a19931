package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/loykin/agentward/internal/history"
	"github.com/loykin/agentward/internal/status"
	"github.com/loykin/agentward/internal/store/sqlite"
)

func newTestRouter(t *testing.T, apiKey string, sink history.Sink) http.Handler {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewRouter(db, sink, apiKey, "", nil).Handler()
}

func patchStatus(t *testing.T, h http.Handler, name string, body map[string]any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPatch, "/agent_status", bytes.NewReader(b))
	req.URL.RawQuery = url.Values{"agent_name": {"eq." + name}}.Encode()
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPatchCreatesAndUpdates(t *testing.T) {
	h := newTestRouter(t, "", nil)

	w := patchStatus(t, h, "Blog Writing Agent", map[string]any{
		"status": "running", "health": 100, "last_activity": "Agent started",
	}, map[string]string{"Prefer": "return=minimal"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// Partial update leaves untouched fields in place.
	w = patchStatus(t, h, "Blog Writing Agent", map[string]any{"health": 60}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/agent_status", nil)
	req.URL.RawQuery = url.Values{"agent_name": {"eq.Blog Writing Agent"}}.Encode()
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rw.Code)
	}
	var recs []status.Record
	if err := json.Unmarshal(rw.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Health != 60 || recs[0].Status != status.Running || recs[0].LastActivity != "Agent started" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestGetUnknownAgentReturnsEmptyArray(t *testing.T) {
	h := newTestRouter(t, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/agent_status?agent_name=eq.nobody", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}
}

func TestListAll(t *testing.T) {
	h := newTestRouter(t, "", nil)
	for _, name := range []string{"beta", "alpha"} {
		w := patchStatus(t, h, name, map[string]any{"status": "running", "health": 100}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("patch %s: %d", name, w.Code)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/agent_status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var recs []status.Record
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 2 || recs[0].AgentName != "alpha" {
		t.Fatalf("unexpected list: %+v", recs)
	}
}

func TestPatchValidation(t *testing.T) {
	h := newTestRouter(t, "", nil)

	// missing filter
	req := httptest.NewRequest(http.MethodPatch, "/agent_status", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing filter: expected 400, got %d", w.Code)
	}

	// invalid status value
	w = patchStatus(t, h, "a", map[string]any{"status": "sleeping", "health": 50}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: expected 400, got %d", w.Code)
	}

	// health out of range
	w = patchStatus(t, h, "a", map[string]any{"status": "running", "health": 150}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid health: expected 400, got %d", w.Code)
	}
}

func TestAPIKeyEnforced(t *testing.T) {
	h := newTestRouter(t, "secret", nil)

	w := patchStatus(t, h, "a", map[string]any{"status": "running", "health": 100}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: expected 401, got %d", w.Code)
	}

	w = patchStatus(t, h, "a", map[string]any{"status": "running", "health": 100},
		map[string]string{"apikey": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("apikey header: expected 200, got %d", w.Code)
	}

	w = patchStatus(t, h, "a", map[string]any{"health": 90},
		map[string]string{"Authorization": "Bearer secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("bearer header: expected 200, got %d", w.Code)
	}

	// healthz stays open
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rw.Code)
	}
}

type recordingSink struct {
	events []history.Event
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestHistorySinkReceivesReports(t *testing.T) {
	sink := &recordingSink{}
	h := newTestRouter(t, "", sink)
	w := patchStatus(t, h, "a", map[string]any{"status": "running", "health": 100}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("patch: %d", w.Code)
	}
	if len(sink.events) != 1 || sink.events[0].Type != history.EventReport {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
	if time.Since(sink.events[0].OccurredAt) > time.Minute {
		t.Fatalf("stale event time: %v", sink.events[0].OccurredAt)
	}
}

func TestHistorySinkClassifiesCorrections(t *testing.T) {
	sink := &recordingSink{}
	h := newTestRouter(t, "", sink)
	w := patchStatus(t, h, "a", map[string]any{"status": "stopped", "health": 0},
		map[string]string{history.EventHeader: string(history.EventCorrection)})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: %d", w.Code)
	}
	if len(sink.events) != 1 || sink.events[0].Type != history.EventCorrection {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
}
