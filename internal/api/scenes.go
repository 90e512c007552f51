package api

import (
	"net/http"
)

// sceneResponse is the JSON representation of a scene module.
type sceneResponse struct {
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Animated    bool     `json:"animated"`
	DeviceTypes []string `json:"deviceTypes,omitempty"`
	Author      string   `json:"author,omitempty"`
	Version     string   `json:"version,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// handleListScenes returns the scene table.
func (s *Server) handleListScenes(w http.ResponseWriter, _ *http.Request) {
	modules := s.scenes.List()

	scenes := make([]sceneResponse, 0, len(modules))
	for _, m := range modules {
		scenes = append(scenes, sceneResponse{
			Name:        m.Name,
			Category:    m.Category,
			Animated:    m.WantsLoop,
			DeviceTypes: m.DeviceTypes,
			Author:      m.Meta.Author,
			Version:     m.Meta.Version,
			Tags:        m.Meta.Tags,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scenes": scenes,
		"count":  len(scenes),
	})
}

// handleListDrivers returns the registered driver kinds.
func (s *Server) handleListDrivers(w http.ResponseWriter, _ *http.Request) {
	var kinds []string
	if s.drivers != nil {
		kinds = s.drivers.Kinds()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"drivers": kinds,
		"count":   len(kinds),
	})
}
