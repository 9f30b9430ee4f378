package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/devicehub/internal/audit"
	"github.com/nerrad567/devicehub/internal/device"
)

// handleListCommands returns paginated command log entries with optional filters.
//
// Query parameters:
//   - device_id: filter by device
//   - action: filter by action
//   - source: filter by source (bus, api, system)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	s.listCommandLog(w, r, commandFilter(r.URL.Query().Get("device_id"), r))
}

// handleListDeviceCommands returns the command log of a single device.
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	s.listCommandLog(w, r, commandFilter(d.ID(), r))
}

func (s *Server) listCommandLog(w http.ResponseWriter, r *http.Request, filter audit.Filter) {
	if s.commandLog == nil {
		writeUnavailable(w, "command log unavailable")
		return
	}

	result, err := s.commandLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command log", "device_id", filter.DeviceID, "error", err)
		writeInternalError(w, "failed to list command log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func commandFilter(deviceID string, r *http.Request) audit.Filter {
	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: deviceID,
		Action:   q.Get("action"),
		Source:   device.Source(q.Get("source")),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	return filter
}
