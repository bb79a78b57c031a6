package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// MeterHandlers serve reading history.
type MeterHandlers struct {
	history History
	logger  *zap.Logger
}

// NewMeterHandlers builds the meter handlers.
func NewMeterHandlers(history History, logger *zap.Logger) *MeterHandlers {
	return &MeterHandlers{history: history, logger: logger}
}

// Readings handles GET /api/meters/{id}/readings.
func (h *MeterHandlers) Readings(w http.ResponseWriter, r *http.Request) {
	meterID := strings.TrimSpace(r.PathValue("id"))
	if meterID == "" {
		writeError(w, http.StatusBadRequest, "invalid meter id")
		return
	}
	items, info, err := h.history.ListReadings(r.Context(), meterID, pageFrom(r))
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: items, Page: info})
}
