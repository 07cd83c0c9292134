package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/device"
)

const maxBulkDevices = 500

// ToggleRequest is the body of POST /devices/{id}/switches/{switchId}/toggle.
type ToggleRequest struct {
	State  *bool  `json:"state"`
	UserID string `json:"userId,omitempty"`
}

// BulkToggleRequest is the body of POST /toggle/bulk.
type BulkToggleRequest struct {
	DeviceIDs []string `json:"deviceIds"`
	State     *bool    `json:"state"`
	UserID    string   `json:"userId,omitempty"`
}

// switchState is one entry of a device state snapshot.
type switchState struct {
	SwitchID  string        `json:"switchId"`
	State     bool          `json:"state"`
	Seq       uint64        `json:"seq"`
	Source    device.Source `json:"source,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// deviceState is the response of GET /devices/{id}/state.
type deviceState struct {
	DeviceID string        `json:"deviceId"`
	Status   device.Status `json:"status"`
	LastSeen time.Time     `json:"lastSeen"`
	Switches []switchState `json:"switches"`
}

// handleListDevices returns every registered device, optionally filtered by
// ?status=online|offline.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.List()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.Status) == status {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device with its switches.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleGetDeviceState returns the current per-switch state and seq.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}

	resp := deviceState{
		DeviceID: dev.ID,
		Status:   dev.Status,
		LastSeen: dev.LastSeen,
		Switches: make([]switchState, 0, len(dev.Switches)),
	}
	for _, sw := range dev.Switches {
		resp.Switches = append(resp.Switches, switchState{
			SwitchID:  sw.ID,
			State:     sw.State,
			Seq:       sw.LastUpdateSeq,
			Source:    sw.LastSource,
			UpdatedAt: sw.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetDeviceHistory returns recent persisted switch changes.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, device.DefaultHistoryLimit, device.MaxHistoryLimit)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.registry.Snapshot(id); err != nil {
		s.writeCoreError(w, r, err)
		return
	}

	entries, err := s.registry.History(r.Context(), id, limit)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if entries == nil {
		entries = []device.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId": id,
		"history":  entries,
		"count":    len(entries),
	})
}

// handleDeleteDevice forgets a device. A board that identifies again is
// registered afresh.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggle sets one switch. The response is 200 when the command was
// pushed and 202 when it was queued for an offline device.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.State == nil {
		writeBadRequest(w, "state is required")
		return
	}

	out, err := s.dispatcher.Toggle(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "switchId"), *req.State, command.UserSource(req.UserID))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}

	status := http.StatusOK
	if out.Status == command.OutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

// handleBulkToggle sets every switch of each listed device.
func (s *Server) handleBulkToggle(w http.ResponseWriter, r *http.Request) {
	var req BulkToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.State == nil {
		writeBadRequest(w, "state is required")
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeBadRequest(w, "deviceIds is required")
		return
	}
	if len(req.DeviceIDs) > maxBulkDevices {
		writeBadRequest(w, "too many deviceIds (max "+strconv.Itoa(maxBulkDevices)+")")
		return
	}
	for _, id := range req.DeviceIDs {
		if strings.TrimSpace(id) == "" {
			writeBadRequest(w, "deviceIds must not contain empty values")
			return
		}
	}

	result := s.dispatcher.BulkToggle(r.Context(), req.DeviceIDs, *req.State, command.UserSource(req.UserID))
	writeJSON(w, http.StatusOK, result)
}

// parseLimit reads ?limit=, writing a 400 and returning false when invalid.
func parseLimit(w http.ResponseWriter, r *http.Request, def, maxLimit int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxLimit), true
}
