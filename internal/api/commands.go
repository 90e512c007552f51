package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/dispatch"
	"github.com/nerrad567/pixelgrid-core/internal/driver"
	"github.com/nerrad567/pixelgrid-core/internal/scheduler"
)

// sceneActions are the transport actions accepted on POST /devices/{id}/scene/{action}.
var sceneActions = map[string]bool{
	"play":       true,
	"pause":      true,
	"resume":     true,
	"stop":       true,
	"restart":    true,
	"setDefault": true,
}

// resetActions are the actions accepted on POST /devices/{id}/reset/{action}.
var resetActions = map[string]bool{
	"soft": true,
	"hard": true,
}

// dispatchCommand builds a command envelope and runs it through the shared
// dispatcher, then maps the outcome to an HTTP response. The dispatcher has
// already published the result to the bus; the HTTP response just mirrors it
// for the synchronous caller.
func (s *Server) dispatchCommand(w http.ResponseWriter, r *http.Request, section, action string, payload []byte) {
	id := chi.URLParam(r, "id")
	env := dispatch.NewEnvelope(id, section, action, payload)

	if err := s.dispatcher.Dispatch(r.Context(), env); err != nil {
		s.writeCommandError(w, err)
		return
	}

	resp := map[string]any{
		"commandId": env.CommandID,
		"accepted":  true,
	}
	if s.states != nil {
		if st, err := s.states.DeviceSceneState(r.Context(), id); err == nil {
			resp["sceneState"] = st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeCommandError maps dispatcher errors onto HTTP statuses.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation),
		errors.Is(err, dispatch.ErrUnknownSection),
		errors.Is(err, dispatch.ErrUnknownAction),
		errors.Is(err, device.ErrInvalidID):
		writeBadRequest(w, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, scheduler.ErrNoActiveScene),
		errors.Is(err, scheduler.ErrNotPaused),
		errors.Is(err, scheduler.ErrSwitchSuppressed):
		writeConflict(w, err.Error())
	case errors.Is(err, driver.ErrUnknownKind):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// handleSetState submits a state/update command: show new content on the
// device, switching scene if needed.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body")
		return
	}
	s.dispatchCommand(w, r, "state", "update", payload)
}

// handleSceneAction submits a scene transport command (play, pause, resume,
// stop, restart, setDefault).
func (s *Server) handleSceneAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if !sceneActions[action] {
		writeBadRequest(w, "unknown scene action: "+action)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body")
		return
	}
	s.dispatchCommand(w, r, "scene", action, payload)
}

// handleSetDriver submits a driver/set command: hot-swap the device driver.
func (s *Server) handleSetDriver(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body")
		return
	}
	s.dispatchCommand(w, r, "driver", "set", payload)
}

// handleResetAction submits a reset/soft or reset/hard command.
func (s *Server) handleResetAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if !resetActions[action] {
		writeBadRequest(w, "unknown reset action: "+action)
		return
	}
	s.dispatchCommand(w, r, "reset", action, nil)
}

// handleGetSceneState returns the device's current scene state.
func (s *Server) handleGetSceneState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.states == nil {
		writeInternalError(w, "scene state source not configured")
		return
	}

	st, err := s.states.DeviceSceneState(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("reading scene state", "device_id", id, "error", err)
		writeInternalError(w, "failed to read scene state")
		return
	}

	writeJSON(w, http.StatusOK, st)
}
