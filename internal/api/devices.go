package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicehub/internal/device"
)

// maxQueryParamLen bounds path and query values echoed into lookups.
const maxQueryParamLen = 128

// deviceView is the JSON representation of a registered device.
type deviceView struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Emulation bool                `json:"emulation"`
	Commands  []device.CommandDef `json:"commands"`
	Handlers  []string            `json:"handlers"`
	State     device.State        `json:"state"`
}

func newDeviceView(d *device.Device) deviceView {
	return deviceView{
		ID:        d.ID(),
		Name:      d.Name(),
		Emulation: d.Emulation(),
		Commands:  d.Commands(),
		Handlers:  d.HandlerNames(),
		State:     d.State(),
	}
}

// handleListDevices returns every registered device in registration order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, newDeviceView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(d))
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleGetDeviceState returns the current state snapshot of a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": d.ID(),
		"state":     d.State(),
	})
}

// handleExecuteCommand runs an action on a device with parameters from the
// JSON request body. An empty body means no parameters.
//
// Responses:
//   - 200 with the command result on success
//   - 422 with the command result when validation or the handler failed
//   - 404 when the device does not exist
func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	action := strings.TrimSpace(chi.URLParam(r, "action"))
	if deviceID == "" || len(deviceID) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return
	}
	if action == "" || len(action) > maxQueryParamLen {
		writeBadRequest(w, "invalid action")
		return
	}

	params, err := decodeCommandBody(r.Body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.registry.Execute(r.Context(), deviceID, action, params, device.SourceAPI)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("command execution failed", "device_id", deviceID, "action", action, "error", err)
		writeInternalError(w, "failed to execute command")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"device_id": deviceID,
		"action":    action,
		"result":    result,
	})
}

// decodeCommandBody reads an optional JSON object of command parameters.
func decodeCommandBody(body io.Reader) (map[string]any, error) {
	if body == nil {
		return map[string]any{}, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if strings.TrimSpace(string(data)) == "" {
		return map[string]any{}, nil
	}

	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// lookupDevice resolves the {id} URL parameter, writing the error response
// itself when the device cannot be returned.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return nil, false
	}

	d, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return d, true
}
