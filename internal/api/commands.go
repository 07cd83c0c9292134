package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relay-core/internal/command"
)

const maxConflictLimit = 1000

// handleGetCommand returns one command's lifecycle record.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.dispatcher.Command(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleListConflicts returns recorded manual override conflicts, newest
// first. Filters: deviceId, switchId, since (RFC 3339), limit.
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := command.ConflictFilter{
		DeviceID: q.Get("deviceId"),
		SwitchID: q.Get("switchId"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	limit, ok := parseLimit(w, r, 0, maxConflictLimit)
	if !ok {
		return
	}
	filter.Limit = limit

	records, err := s.resolver.Conflicts(r.Context(), filter)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if records == nil {
		records = []command.ConflictRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": records,
		"count":     len(records),
	})
}
