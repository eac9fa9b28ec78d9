package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/journalgate/internal/storage"
	"github.com/org/journalgate/pkg/models"
)

// HealthHandler handles GET /v1/sys/health. It reports 503 until the
// session has been restored, since no route can be decided before then.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	phase := s.gate.Phase()
	code := http.StatusOK
	if phase == models.PhaseUnknown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"restored": phase != models.PhaseUnknown,
		"phase":    string(phase),
		"version":  Version,
	})
}

// AuditLogHandler handles GET /v1/sys/audit-log
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		writeError(w, http.StatusNotFound, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := storage.EventFilter{Operation: q.Get("operation")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since (want RFC3339)")
			return
		}
		filter.Since = &t
	}

	events, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit log")
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":            e.ID,
			"operation":     e.Operation,
			"result":        string(e.Result),
			"authenticated": e.Authenticated,
			"detail":        e.Detail,
			"request_id":    e.RequestID,
			"timestamp":     e.Timestamp.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
