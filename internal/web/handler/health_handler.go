package handler

import (
	"net/http"

	"github.com/signet-id/signet/internal/health"
	"github.com/signet-id/signet/internal/web/response"
)

type HealthHandler struct {
	Checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) HealthHandler {
	return HealthHandler{Checker: checker}
}

// RegisterRoutes sets up Kubernetes-compatible health endpoints
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /health/live", h.HandleLiveness)
	mux.HandleFunc("GET /health/ready", h.HandleReadiness)
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.Checker.CheckHealth(r.Context())
	response.JSONResponse(w, statusCode(status.Status), status)
}

func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	status := h.Checker.CheckLiveness(r.Context())
	response.JSONResponse(w, statusCode(status.Status), status)
}

func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.Checker.CheckReadiness(r.Context())
	response.JSONResponse(w, statusCode(status.Status), status)
}

// statusCode maps health states onto probe-friendly HTTP codes. Degraded
// still serves traffic.
func statusCode(status string) int {
	if status == "unhealthy" {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
