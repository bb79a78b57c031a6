package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// LedgerHandlers serve balance, tariff and recharge endpoints.
type LedgerHandlers struct {
	ctrl    Controller
	history History
	logger  *zap.Logger
}

// NewLedgerHandlers builds the ledger handlers.
func NewLedgerHandlers(ctrl Controller, history History, logger *zap.Logger) *LedgerHandlers {
	return &LedgerHandlers{ctrl: ctrl, history: history, logger: logger}
}

type amountRequest struct {
	AmountMZN float64 `json:"amount_mzn"`
}

// Dashboard handles GET /api/dashboard.
func (h *LedgerHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Dashboard())
}

// Ledger handles GET /api/ledger.
func (h *LedgerHandlers) Ledger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Ledger())
}

// SetPrice handles PUT /api/ledger/price.
func (h *LedgerHandlers) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PricePerKWh float64 `json:"price_per_kwh"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := h.ctrl.SetPrice(r.Context(), req.PricePerKWh)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Preview handles POST /api/recharges/preview.
func (h *LedgerHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	quote, err := h.ctrl.PreviewRecharge(req.AmountMZN)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// Recharges handles GET and POST /api/recharges.
func (h *LedgerHandlers) Recharges(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.listRecharges(w, r)
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.ctrl.Recharge(r.Context(), req.AmountMZN)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *LedgerHandlers) listRecharges(w http.ResponseWriter, r *http.Request) {
	items, info, err := h.history.ListRecharges(r.Context(), pageFrom(r))
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: items, Page: info})
}
