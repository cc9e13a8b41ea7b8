package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/peer/wire"
	"github.com/iudanet/gophsync/internal/publish"
	"github.com/iudanet/gophsync/pkg/api"
)

// maxUpdatesBody ограничивает размер уведомления
const maxUpdatesBody = 8 << 20

//go:generate moq -out updates_mock.go . UpdateReceiver

// UpdateReceiver applies the ticks announced by a peer.
type UpdateReceiver interface {
	ReceiveUpdates(ctx context.Context, device models.DeviceID, updates []publish.Update) (received, known int, err error)
}

// UpdatesHandler handles update notifications of peers.
type UpdatesHandler struct {
	receiver UpdateReceiver
	logger   *slog.Logger
}

// NewUpdatesHandler creates a new updates handler
func NewUpdatesHandler(receiver UpdateReceiver, logger *slog.Logger) *UpdatesHandler {
	return &UpdatesHandler{
		receiver: receiver,
		logger:   logger,
	}
}

// Updates обрабатывает POST /api/v1/updates
func (h *UpdatesHandler) Updates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var req api.UpdatesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdatesBody)).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode updates request", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}

	device, updates, err := wire.Decode(req)
	if err != nil {
		h.logger.Warn("Invalid updates request", "device", req.Device, "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "invalid updates", err)
		return
	}

	received, known, err := h.receiver.ReceiveUpdates(r.Context(), device, updates)
	switch {
	case errors.Is(err, core.ErrNoResource):
		// пир повторит уведомление позже
		w.Header().Set("Retry-After", "1")
		writeError(w, h.logger, http.StatusServiceUnavailable, "busy", nil)
		return
	case err != nil:
		h.logger.Error("Failed to apply updates", "device", device, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to apply updates", nil)
		return
	}

	h.logger.Debug("Updates applied", "device", device, "keys", len(updates), "received", received, "known", known)
	writeJSON(w, h.logger, http.StatusOK, api.UpdatesResponse{Received: received, Known: known})
}
