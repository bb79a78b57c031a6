package httpserver

import (
	"net/http"
	"strings"

	"prepaidgrid/backend/services/control-service/internal/http/handlers"
	"prepaidgrid/backend/services/control-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Device    *handlers.DeviceHandlers
	Ledger    *handlers.LedgerHandlers
	Relays    *handlers.RelayHandlers
	Meters    *handlers.MeterHandlers
	Peaks     *handlers.PeakHandlers
	Login     http.HandlerFunc
	Health    http.HandlerFunc
	Dashboard http.HandlerFunc
}

// NewRouter wires HTTP routes. Device endpoints sit behind deviceAuth, everything under
// /api and /ws else behind operatorAuth.
func NewRouter(deps RouterDeps, deviceAuth, operatorAuth func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(deps.Health, http.MethodGet))
	mux.Handle("/auth/login", method(deps.Login, http.MethodPost))

	device := func(handler http.HandlerFunc, methods ...string) http.Handler {
		return middleware.Chain(method(handler, methods...), deviceAuth)
	}
	operator := func(handler http.HandlerFunc, methods ...string) http.Handler {
		return middleware.Chain(method(handler, methods...), operatorAuth)
	}

	mux.Handle("/api/telemetry", device(deps.Device.Telemetry, http.MethodPost))
	mux.Handle("/api/commands", device(deps.Device.Commands, http.MethodGet))
	mux.Handle("/api/commands/pending", operator(deps.Device.Pending, http.MethodGet))

	mux.Handle("/api/dashboard", operator(deps.Ledger.Dashboard, http.MethodGet))
	mux.Handle("/api/ledger", operator(deps.Ledger.Ledger, http.MethodGet))
	mux.Handle("/api/ledger/price", operator(deps.Ledger.SetPrice, http.MethodPut))
	mux.Handle("/api/recharges", operator(deps.Ledger.Recharges, http.MethodGet, http.MethodPost))
	mux.Handle("/api/recharges/preview", operator(deps.Ledger.Preview, http.MethodPost))

	mux.Handle("/api/relays", operator(deps.Relays.Collection, http.MethodGet, http.MethodPost))
	mux.Handle("/api/relays/{id}", operator(deps.Relays.Item, http.MethodGet, http.MethodPut, http.MethodDelete))
	mux.Handle("/api/relays/{id}/mode", operator(deps.Relays.Mode, http.MethodPost))
	mux.Handle("/api/relays/{id}/state", operator(deps.Relays.State, http.MethodPost))
	mux.Handle("/api/relays/{id}/toggle", operator(deps.Relays.Toggle, http.MethodPost))
	mux.Handle("/api/relays/{id}/clear-protection", operator(deps.Relays.ClearProtection, http.MethodPost))
	mux.Handle("/api/relays/{id}/logs", operator(deps.Relays.Logs, http.MethodGet))

	mux.Handle("/api/meters/{id}/readings", operator(deps.Meters.Readings, http.MethodGet))
	mux.Handle("/api/peaks", operator(deps.Peaks.Peak, http.MethodGet))
	mux.Handle("/api/peaks/week-days", operator(deps.Peaks.WeekDays, http.MethodGet))

	if deps.Dashboard != nil {
		mux.Handle("/ws/dashboard", operator(deps.Dashboard, http.MethodGet))
	}

	return mux
}

func method(handler http.HandlerFunc, allowed ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range allowed {
			if r.Method == m {
				handler(w, r)
				return
			}
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}
