package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/models"
	"prepaidgrid/backend/services/control-service/internal/relay"
)

// RelayHandlers serve relay configuration, manual control and audit history.
type RelayHandlers struct {
	ctrl    Controller
	history History
	logger  *zap.Logger
}

// NewRelayHandlers builds the relay handlers.
func NewRelayHandlers(ctrl Controller, history History, logger *zap.Logger) *RelayHandlers {
	return &RelayHandlers{ctrl: ctrl, history: history, logger: logger}
}

// relayConfigRequest uses pointers so omitted fields keep their current value on update
// and take defaults on create.
type relayConfigRequest struct {
	Name         *string  `json:"name"`
	MeterID      *string  `json:"meter_id"`
	Priority     *int     `json:"priority"`
	ThresholdKWh *float64 `json:"threshold_kwh"`
}

func (req relayConfigRequest) merge(cfg relay.Config) relay.Config {
	if req.Name != nil {
		cfg.Name = *req.Name
	}
	if req.MeterID != nil {
		cfg.MeterID = *req.MeterID
	}
	if req.Priority != nil {
		cfg.Priority = *req.Priority
	}
	if req.ThresholdKWh != nil {
		cfg.ThresholdKWh = *req.ThresholdKWh
	}
	return cfg
}

// Collection handles GET and POST /api/relays.
func (h *RelayHandlers) Collection(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, h.ctrl.Relays())
		return
	}
	var req relayConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg := req.merge(relay.Config{ThresholdKWh: relay.DefaultThresholdKWh})
	created, err := h.ctrl.CreateRelay(r.Context(), cfg)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Item handles GET, PUT and DELETE /api/relays/{id}.
func (h *RelayHandlers) Item(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodDelete:
		if err := h.ctrl.DeleteRelay(r.Context(), id); err != nil {
			writeAppError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut:
		current, err := h.ctrl.Relay(id)
		if err != nil {
			writeAppError(w, h.logger, err)
			return
		}
		var req relayConfigRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cfg := req.merge(relay.Config{
			Name:         current.Name,
			MeterID:      current.MeterID,
			Priority:     current.Priority,
			ThresholdKWh: current.ThresholdKWh,
		})
		updated, err := h.ctrl.UpdateRelay(r.Context(), id, cfg)
		if err != nil {
			writeAppError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		rel, err := h.ctrl.Relay(id)
		if err != nil {
			writeAppError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, rel)
	}
}

// Mode handles POST /api/relays/{id}/mode.
func (h *RelayHandlers) Mode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Mode models.Mode `json:"mode"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respond(w, func() (models.Relay, error) { return h.ctrl.SetMode(r.Context(), id, req.Mode) })
}

// State handles POST /api/relays/{id}/state.
func (h *RelayHandlers) State(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		State models.State `json:"state"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respond(w, func() (models.Relay, error) { return h.ctrl.SetState(r.Context(), id, req.State) })
}

// Toggle handles POST /api/relays/{id}/toggle.
func (h *RelayHandlers) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.respond(w, func() (models.Relay, error) { return h.ctrl.Toggle(r.Context(), id) })
}

// ClearProtection handles POST /api/relays/{id}/clear-protection.
func (h *RelayHandlers) ClearProtection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.respond(w, func() (models.Relay, error) { return h.ctrl.ClearProtection(r.Context(), id) })
}

// Logs handles GET /api/relays/{id}/logs.
func (h *RelayHandlers) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.ctrl.Relay(id); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	items, info, err := h.history.ListAudit(r.Context(), id, pageFrom(r))
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: items, Page: info})
}

func (h *RelayHandlers) respond(w http.ResponseWriter, op func() (models.Relay, error)) {
	rel, err := op()
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}
