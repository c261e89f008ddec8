package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/luigi-home/luigid/internal/clock"
)

// handleAuditQuery serves audit events from the query index. Filters:
// start/end (RFC 3339), type, actor, limit.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		WriteError(w, http.StatusServiceUnavailable, "audit query index not configured")
		return
	}

	q := r.URL.Query()

	end := clock.Now()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid end timestamp")
			return
		}
		end = t
	}

	start := end.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid start timestamp")
			return
		}
		start = t
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			WriteError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}

	events, err := s.auditStore.Query(start, end, q.Get("type"), q.Get("actor"), limit)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "audit query failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
