package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pixelgrid-core/internal/device"
)

// deviceResponse is the JSON representation of a device record.
type deviceResponse struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Driver             string     `json:"driver"`
	Address            string     `json:"address,omitempty"`
	Width              int        `json:"width"`
	Height             int        `json:"height"`
	SupportsBrightness bool       `json:"supportsBrightness"`
	SupportsPower      bool       `json:"supportsPower"`
	Brightness         int        `json:"brightness"`
	DefaultScene       string     `json:"defaultScene,omitempty"`
	ActiveScene        string     `json:"activeScene,omitempty"`
	Status             string     `json:"status"`
	Generation         uint64     `json:"generationId"`
	LastRenderAt       *time.Time `json:"lastRenderAt,omitempty"`
	PushCount          int64      `json:"pushCount"`
	ErrorCount         int64      `json:"errorCount"`
	LastFrameMS        int64      `json:"lastFrameMs"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toDeviceResponse(rec *device.Record) deviceResponse {
	return deviceResponse{
		ID:                 rec.ID,
		Name:               rec.Name,
		Driver:             rec.DriverKind,
		Address:            rec.Address,
		Width:              rec.Width,
		Height:             rec.Height,
		SupportsBrightness: rec.SupportsBrightness,
		SupportsPower:      rec.SupportsPower,
		Brightness:         rec.Brightness,
		DefaultScene:       rec.DefaultScene,
		ActiveScene:        rec.ActiveScene,
		Status:             string(rec.Status),
		Generation:         rec.Generation,
		LastRenderAt:       rec.LastRenderAt,
		PushCount:          rec.PushCount,
		ErrorCount:         rec.ErrorCount,
		LastFrameMS:        rec.LastFrameMS,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	devices := make([]deviceResponse, 0, len(records))
	for i := range records {
		devices = append(devices, toDeviceResponse(&records[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// createDeviceRequest is the body of POST /devices.
type createDeviceRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Driver             string `json:"driver"`
	Address            string `json:"address"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	SupportsBrightness bool   `json:"supportsBrightness"`
	SupportsPower      bool   `json:"supportsPower"`
	DefaultScene       string `json:"defaultScene"`
}

// handleCreateDevice registers a device explicitly. Devices referenced by
// commands are materialised automatically; this endpoint lets an admin UI
// declare canvas size and driver up front.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Driver == "" {
		req.Driver = "noop"
	}

	rec := &device.Record{
		ID:                 req.ID,
		Name:               req.Name,
		DriverKind:         req.Driver,
		Address:            req.Address,
		Width:              req.Width,
		Height:             req.Height,
		SupportsBrightness: req.SupportsBrightness,
		SupportsPower:      req.SupportsPower,
		Brightness:         100,
		DefaultScene:       req.DefaultScene,
	}

	if err := s.registry.Create(r.Context(), rec); err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device already exists: "+req.ID)
		case errors.Is(err, device.ErrInvalidDevice), errors.Is(err, device.ErrInvalidID),
			errors.Is(err, device.ErrInvalidCanvas):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("creating device", "device_id", req.ID, "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toDeviceResponse(rec))
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("getting device", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(rec))
}

// updateDeviceRequest is the body of PATCH /devices/{id}.
// Only the provided fields are changed.
type updateDeviceRequest struct {
	Name         *string `json:"name"`
	DefaultScene *string `json:"defaultScene"`
	Width        *int    `json:"width"`
	Height       *int    `json:"height"`
}

// handleUpdateDevice updates mutable device fields.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	if req.Name != nil {
		rec.Name = *req.Name
	}
	if req.DefaultScene != nil {
		rec.DefaultScene = *req.DefaultScene
	}
	if req.Width != nil {
		rec.Width = *req.Width
	}
	if req.Height != nil {
		rec.Height = *req.Height
	}

	if err := s.registry.Update(r.Context(), rec); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice), errors.Is(err, device.ErrInvalidCanvas):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("updating device", "device_id", id, "error", err)
			writeInternalError(w, "failed to update device")
		}
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(rec))
}

// handleDeleteDevice removes a device from the registry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.Delete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("deleting device", "device_id", id, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleDeviceStats returns fleet-wide device statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.GetStats()

	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		byStatus[string(status)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     stats.TotalDevices,
		"by_status": byStatus,
		"by_driver": stats.ByDriver,
	})
}

// handleSetBrightness adjusts a device's brightness. Devices without the
// brightness capability accept the request as a no-op, mirroring the
// driver contract.
func (s *Server) handleSetBrightness(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Brightness int `json:"brightness"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Brightness < 0 || req.Brightness > 100 {
		writeBadRequest(w, "brightness must be between 0 and 100")
		return
	}

	if err := s.registry.SetBrightness(r.Context(), id, req.Brightness); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("setting brightness", "device_id", id, "error", err)
		writeInternalError(w, "failed to set brightness")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"brightness": req.Brightness,
	})
}
