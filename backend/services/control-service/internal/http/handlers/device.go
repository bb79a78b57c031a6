package handlers

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/engine"
)

// DeviceHandlers serve the field gateway.
type DeviceHandlers struct {
	ctrl   Controller
	logger *zap.Logger
}

// NewDeviceHandlers builds the device handlers.
func NewDeviceHandlers(ctrl Controller, logger *zap.Logger) *DeviceHandlers {
	return &DeviceHandlers{ctrl: ctrl, logger: logger}
}

// Telemetry handles POST /api/telemetry.
func (h *DeviceHandlers) Telemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	in, err := engine.DecodeTelemetry(body)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	report, err := h.ctrl.Ingest(r.Context(), in)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

// Commands handles GET /api/commands. Each call consumes at most one command.
func (h *DeviceHandlers) Commands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"command": h.ctrl.PollCommand()})
}

// Pending handles GET /api/commands/pending without consuming anything.
func (h *DeviceHandlers) Pending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.PendingCommands())
}
