package server

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/agentward/internal/history"
	"github.com/loykin/agentward/internal/status"
	"github.com/loykin/agentward/internal/store"
)

// Router provides embeddable HTTP handlers exposing a Supabase-compatible
// agent_status table. Endpoints:
//
//	PATCH {basePath}/agent_status?agent_name=eq.<name>   body: partial record JSON
//	GET   {basePath}/agent_status[?agent_name=eq.<name>] returns a JSON array
//	GET   {basePath}/healthz
//
// PATCH upserts: a filter naming an unknown agent creates the record, so
// reporters never need a separate insert call. GET always answers with an
// array, matching what the hosted REST API returns.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	store    store.Store
	sink     history.Sink
	apiKey   string
	basePath string
	logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// sink may be nil; apiKey empty disables authentication.
func NewRouter(st store.Store, sink history.Sink, apiKey, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: st, sink: sink, apiKey: apiKey, basePath: sanitizeBase(basePath), logger: logger}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	auth := group.Group("", r.requireAPIKey)
	auth.PATCH("/agent_status", r.handlePatch)
	auth.GET("/agent_status", r.handleGet)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down through the returned http.Server.
func NewServer(addr string, r *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// requireAPIKey accepts the key in either header the hosted API honors:
// "apikey: <key>" or "Authorization: Bearer <key>".
func (r *Router) requireAPIKey(c *gin.Context) {
	if r.apiKey == "" {
		return
	}
	if c.GetHeader("apikey") == r.apiKey {
		return
	}
	if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && bearer == r.apiKey {
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResp{Error: "invalid or missing api key"})
}

// patchBody carries a partial update. Absent fields keep their stored value.
type patchBody struct {
	Status       *string    `json:"status"`
	Health       *int       `json:"health"`
	LastActivity *string    `json:"last_activity"`
	LastError    *string    `json:"last_error"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

func (r *Router) handlePatch(c *gin.Context) {
	name, ok := eqFilter(c.Query("agent_name"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "agent_name=eq.<name> filter required"})
		return
	}
	var body patchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	rec, err := r.store.GetByName(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		rec = status.Record{AgentName: name}
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}

	if body.Status != nil {
		rec.Status = status.Status(*body.Status)
	}
	if body.Health != nil {
		rec.Health = *body.Health
	}
	if body.LastActivity != nil {
		rec.LastActivity = *body.LastActivity
	}
	if body.LastError != nil {
		rec.LastError = *body.LastError
	}
	if body.UpdatedAt != nil {
		rec.UpdatedAt = *body.UpdatedAt
	} else {
		rec.UpdatedAt = time.Now().UTC()
	}
	if err := rec.Validate(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	if err := r.store.Upsert(ctx, rec); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if r.sink != nil {
		ev := history.Event{Type: eventType(c), OccurredAt: time.Now().UTC(), Record: rec}
		if err := r.sink.Send(ctx, ev); err != nil {
			r.logger.Warn("history sink send failed", "agent", rec.AgentName, "error", err)
		}
	}
	if c.GetHeader("Prefer") == "return=minimal" {
		c.Status(http.StatusNoContent)
		return
	}
	writeJSON(c, http.StatusOK, []status.Record{rec})
}

// eventType classifies a write for the history sink. Supervisors mark
// their forced writes with the event header; everything else counts as an
// agent report.
func eventType(c *gin.Context) history.EventType {
	if c.GetHeader(history.EventHeader) == string(history.EventCorrection) {
		return history.EventCorrection
	}
	return history.EventReport
}

func (r *Router) handleGet(c *gin.Context) {
	ctx := c.Request.Context()
	if raw := c.Query("agent_name"); raw != "" {
		name, ok := eqFilter(raw)
		if !ok {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "unsupported agent_name filter, use eq.<name>"})
			return
		}
		rec, err := r.store.GetByName(ctx, name)
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(c, http.StatusOK, []status.Record{})
			return
		}
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, []status.Record{rec})
		return
	}
	recs, err := r.store.List(ctx)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []status.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}
