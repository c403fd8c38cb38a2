package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/config"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services/workqueue"
)

// ServiceName identifies this service in status responses.
const ServiceName = "ekaya-cadcheck"

// QueueStats reports analysis queue occupancy.
type QueueStats interface {
	Progress() workqueue.Progress
}

// ConverterStatus reports whether DWG conversion is configured.
type ConverterStatus interface {
	Available() bool
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string              `json:"status"`
	Version  string              `json:"version"`
	Services map[string]string   `json:"services"`
	Queue    *workqueue.Progress `json:"queue,omitempty"`
}

// RootResponse is the body of GET /.
type RootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg       *config.Config
	queue     QueueStats
	converter ConverterStatus
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. queue and converter may be nil.
func NewHealthHandler(cfg *config.Config, queue QueueStats, converter ConverterStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, queue: queue, converter: converter, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Root handles GET / as a minimal liveness probe.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	resp := RootResponse{Status: "ok", Service: ServiceName, Version: h.cfg.Version}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode root response", zap.Error(err))
	}
}

// Health handles GET /health requests.
// Reports the parser, DWG converter and analysis queue state.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.cfg.Version,
		Services: map[string]string{
			"api":       "running",
			"parser":    "ready",
			"converter": "unavailable",
		},
	}
	if h.converter != nil && h.converter.Available() {
		resp.Services["converter"] = "ready"
	}
	if h.queue != nil {
		p := h.queue.Progress()
		resp.Queue = &p
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     ServiceName,
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
