// Package handlers implements the HTTP handlers of the peer endpoint.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	device  models.DeviceID
	version string
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(device models.DeviceID, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		device:  device,
		version: version,
	}
}

// Health обрабатывает GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, api.HealthResponse{
		Status:  "ok",
		Device:  string(h.device),
		Version: h.version,
	})
}

// writeJSON пишет v с кодом status
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// writeError пишет api.ErrorResponse
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string, err error) {
	resp := api.ErrorResponse{Error: msg}
	if err != nil {
		resp.Message = err.Error()
	}
	writeJSON(w, logger, status, resp)
}
