package api

import (
	"net/http"
)

// ExtractorStatus reports the state of the embedding extractor.
type ExtractorStatus interface {
	Loaded() bool
	Name() string
	Dimension() int
}

// HealthHandler serves liveness information.
type HealthHandler struct {
	Extractor ExtractorStatus
	Clients   func() int
}

type healthResponse struct {
	Status    string          `json:"status"`
	Extractor extractorHealth `json:"extractor"`
	Clients   int             `json:"websocket_clients"`
}

type extractorHealth struct {
	Loaded    bool   `json:"loaded"`
	Name      string `json:"name,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

// Health handles GET /healthz. The service is live even while the extractor
// is not loaded; submissions then simply skip matching.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.Extractor != nil {
		resp.Extractor = extractorHealth{
			Loaded:    h.Extractor.Loaded(),
			Name:      h.Extractor.Name(),
			Dimension: h.Extractor.Dimension(),
		}
	}
	if h.Clients != nil {
		resp.Clients = h.Clients()
	}
	jsonResponse(w, http.StatusOK, resp)
}
