package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Scene table and driver kinds (read-only)
		r.Get("/scenes", s.handleListScenes)
		r.Get("/drivers", s.handleListDrivers)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)

				// Command surface: routed through the shared dispatcher
				r.Get("/scene", s.handleGetSceneState)
				r.Put("/state", s.handleSetState)
				r.Post("/scene/{action}", s.handleSceneAction)
				r.Put("/driver", s.handleSetDriver)
				r.Post("/reset/{action}", s.handleResetAction)
				r.Put("/brightness", s.handleSetBrightness)
			})
		})

		// WebSocket relay of the status fanout
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": s.registry.Count(),
		"scenes":  s.scenes.Count(),
	})
}
