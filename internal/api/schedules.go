package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relay-core/internal/schedule"
)

// handleListSchedules returns every schedule ordered by name.
func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	list := s.schedules.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": list,
		"count":     len(list),
	})
}

// handleGetSchedule returns one schedule.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.schedules.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleCreateSchedule validates and stores a new schedule.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req schedule.Schedule
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.ID = ""

	created, err := s.schedules.Create(r.Context(), &req)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	s.logger.Info("schedule created", "schedule_id", created.ID, "name", created.Name)
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateSchedule replaces a schedule's definition.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req schedule.Schedule
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.ID = chi.URLParam(r, "id")

	updated, err := s.schedules.Update(r.Context(), &req)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteSchedule removes a schedule.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
