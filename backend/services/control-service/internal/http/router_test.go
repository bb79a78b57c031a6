package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/auth"
	"prepaidgrid/backend/services/control-service/internal/engine"
	"prepaidgrid/backend/services/control-service/internal/http/handlers"
	"prepaidgrid/backend/services/control-service/internal/http/middleware"
	"prepaidgrid/backend/services/control-service/internal/ledger"
	"prepaidgrid/backend/services/control-service/internal/models"
	"prepaidgrid/backend/services/control-service/internal/peaks"
	"prepaidgrid/backend/services/control-service/internal/repository"
)

const deviceKey = "device-secret"

type memoryStore struct {
	mu        sync.Mutex
	commitErr error
	nextID    int64
	audit     []models.AuditEntry
	recharges []models.Recharge
	peak      *models.Peak
	daily     map[time.Time]float64
}

func (m *memoryStore) CommitCycle(_ context.Context, batch *models.CycleBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.audit = append(m.audit, batch.Audit...)
	if batch.Recharge != nil {
		m.nextID++
		batch.Recharge.ID = m.nextID
		m.recharges = append(m.recharges, *batch.Recharge)
	}
	return nil
}

func (m *memoryStore) InsertRelay(_ context.Context, r models.Relay) (models.Relay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = 10 + m.nextID
	return r, nil
}

func (m *memoryStore) DeleteRelay(context.Context, int64) error { return nil }

func (m *memoryStore) ListAudit(_ context.Context, relayID int64, page repository.Page) ([]models.AuditEntry, repository.PageInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range m.audit {
		if e.RelayID == relayID {
			out = append(out, e)
		}
	}
	return out, repository.PageInfo{Page: 1, PerPage: repository.DefaultAuditPerPage, Total: len(out)}, nil
}

func (m *memoryStore) ListRecharges(context.Context, repository.Page) ([]models.Recharge, repository.PageInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recharges, repository.PageInfo{Page: 1, PerPage: repository.DefaultRechargePerPage, Total: len(m.recharges)}, nil
}

func (m *memoryStore) ListReadings(_ context.Context, meterID string, page repository.Page) ([]models.MeterReading, repository.PageInfo, error) {
	return []models.MeterReading{{MeterID: meterID, Energy: 1}}, repository.PageInfo{Page: page.Number, PerPage: page.PerPage, Total: 1}, nil
}

func (m *memoryStore) PeakPower(context.Context, time.Time, time.Time) (models.Peak, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peak == nil {
		return models.Peak{}, false, nil
	}
	return *m.peak, true, nil
}

func (m *memoryStore) DailyPeakPower(context.Context, time.Time, time.Time) (map[time.Time]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily, nil
}

type stubAuth struct{}

func (stubAuth) Login(_ context.Context, email, password string) (*auth.LoginResult, error) {
	if email == "ops@example.com" && password == "secret" {
		return &auth.LoginResult{Token: "tok", User: &models.User{ID: 1, Email: email}}, nil
	}
	return nil, auth.ErrInvalidCredentials
}

type testServer struct {
	handler http.Handler
	store   *memoryStore
	token   string
}

func newTestServer(t *testing.T, balance float64, relays ...models.Relay) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := &memoryStore{}
	now := time.Date(2025, 11, 20, 6, 0, 0, 0, time.UTC)
	eng := engine.New(
		engine.Bootstrap{
			Ledger: models.LedgerState{BalanceKWh: balance, PricePerKWh: 0.75},
			Relays: relays,
		},
		store, nil, nil, nil,
		engine.Options{
			Fees:       []ledger.Fee{{Name: "garbage", AmountMZN: 5}, {Name: "radio", AmountMZN: 3}},
			VATPercent: 16,
			Now:        func() time.Time { return now },
		},
		logger,
	)
	tokens := auth.NewTokenService("test-secret", time.Hour)
	token, _, err := tokens.Generate(1, "ops@example.com", auth.DefaultRole)
	require.NoError(t, err)

	router := NewRouter(RouterDeps{
		Device: handlers.NewDeviceHandlers(eng, logger),
		Ledger: handlers.NewLedgerHandlers(eng, store, logger),
		Relays: handlers.NewRelayHandlers(eng, store, logger),
		Meters: handlers.NewMeterHandlers(store, logger),
		Peaks:  handlers.NewPeakHandlers(peaks.NewService(store, eng, func() time.Time { return now }, logger), logger),
		Login:  handlers.NewLoginHandler(stubAuth{}, logger),
		Health: handlers.NewHealthHandler(),
	}, middleware.APIKeyMiddleware([]string{deviceKey}), middleware.AuthMiddleware(tokens))

	return &testServer{handler: router, store: store, token: token}
}

func (s *testServer) device(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(middleware.APIKeyHeader, deviceKey)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) operator(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func automaticRelay(id int64, state models.State) models.Relay {
	return models.Relay{ID: id, Name: "geyser", MeterID: "pzem1", Mode: models.ModeAutomatic, State: state, Priority: 3, ThresholdKWh: 5}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 10)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestDeviceEndpointsRequireAPIKey(t *testing.T) {
	srv := newTestServer(t, 10)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/commands", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/commands?api_key=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/commands?api_key="+deviceKey, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorEndpointsRequireToken(t *testing.T) {
	srv := newTestServer(t, 10)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, srv.operator(t, http.MethodGet, "/api/dashboard", "").Code)
}

func TestTelemetryShedsAndCommandsDrainInOrder(t *testing.T) {
	srv := newTestServer(t, 10, automaticRelay(1, models.StateOn), automaticRelay(2, models.StateOn))

	rec := srv.device(t, http.MethodPost, "/api/telemetry", `{"meters":{"pzem1":{"energy":100,"power":250}}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = srv.device(t, http.MethodPost, "/api/telemetry", `{"meters":{"pzem1":{"energy":106,"power":250}}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var report engine.CycleReport
	decode(t, rec, &report)
	assert.InDelta(t, 6, report.ChargedKWh, 1e-9)
	assert.InDelta(t, 4, report.BalanceKWh, 1e-9)

	var pending []map[string]interface{}
	decode(t, srv.operator(t, http.MethodGet, "/api/commands/pending", ""), &pending)
	assert.Len(t, pending, 2)

	var cmd map[string]string
	decode(t, srv.device(t, http.MethodGet, "/api/commands", ""), &cmd)
	assert.Equal(t, "RELAY1_OFF", cmd["command"])
	decode(t, srv.device(t, http.MethodGet, "/api/commands", ""), &cmd)
	assert.Equal(t, "RELAY2_OFF", cmd["command"])
	decode(t, srv.device(t, http.MethodGet, "/api/commands", ""), &cmd)
	assert.Equal(t, "", cmd["command"])

	var logs struct {
		Items []models.AuditEntry `json:"items"`
	}
	decode(t, srv.operator(t, http.MethodGet, "/api/relays/1/logs", ""), &logs)
	require.Len(t, logs.Items, 1)
	assert.Equal(t, models.ReasonLowBalance, logs.Items[0].Reason)
}

func TestTelemetryRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, 10)
	rec := srv.device(t, http.MethodPost, "/api/telemetry", `{"meters":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTelemetryPersistenceFailureIsRetryable(t *testing.T) {
	srv := newTestServer(t, 10, automaticRelay(1, models.StateOn))
	srv.store.commitErr = errors.New("connection reset")

	rec := srv.device(t, http.MethodPost, "/api/telemetry", `{"meters":{"pzem1":{"energy":100}}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestManualStateConflictInAutomaticMode(t *testing.T) {
	srv := newTestServer(t, 10, automaticRelay(1, models.StateOn))

	rec := srv.operator(t, http.MethodPost, "/api/relays/1/state", `{"state":"off"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.operator(t, http.MethodPost, "/api/relays/1/mode", `{"mode":"manual"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.operator(t, http.MethodPost, "/api/relays/1/state", `{"state":"off"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rel models.Relay
	decode(t, rec, &rel)
	assert.Equal(t, models.StateOff, rel.State)
	assert.NotNil(t, rel.LastManualChangeAt)

	var cmd map[string]string
	decode(t, srv.device(t, http.MethodGet, "/api/commands", ""), &cmd)
	assert.Equal(t, "RELAY1_OFF", cmd["command"])
}

func TestRelayErrors(t *testing.T) {
	srv := newTestServer(t, 10, automaticRelay(1, models.StateOn))

	assert.Equal(t, http.StatusNotFound, srv.operator(t, http.MethodPost, "/api/relays/9/toggle", "").Code)
	assert.Equal(t, http.StatusBadRequest, srv.operator(t, http.MethodPost, "/api/relays/abc/toggle", "").Code)
	assert.Equal(t, http.StatusBadRequest, srv.operator(t, http.MethodPost, "/api/relays/1/mode", `{"mode":"turbo"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, srv.operator(t, http.MethodGet, "/api/relays/1/toggle", "").Code)
}

func TestRelayCreateAppliesDefaultsAndUpdateMerges(t *testing.T) {
	srv := newTestServer(t, 10)

	rec := srv.operator(t, http.MethodPost, "/api/relays", `{"name":"pump","meter_id":"pzem2"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Relay
	decode(t, rec, &created)
	assert.Equal(t, models.ModeAutomatic, created.Mode)
	assert.Equal(t, models.StateOff, created.State)
	assert.Equal(t, 3, created.Priority)
	assert.Equal(t, 5.0, created.ThresholdKWh)

	rec = srv.operator(t, http.MethodPost, "/api/relays", `{"name":"pump","priority":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/api/relays/" + strconv.FormatInt(created.ID, 10)
	rec = srv.operator(t, http.MethodPut, path, `{"priority":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Relay
	decode(t, rec, &updated)
	assert.Equal(t, 1, updated.Priority)
	assert.Equal(t, "pump", updated.Name)
	assert.Equal(t, 5.0, updated.ThresholdKWh)

	assert.Equal(t, http.StatusNoContent, srv.operator(t, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, srv.operator(t, http.MethodGet, path, "").Code)
}

func TestRechargeFlow(t *testing.T) {
	srv := newTestServer(t, 0, automaticRelay(1, models.StateOff))

	rec := srv.operator(t, http.MethodPost, "/api/recharges/preview", `{"amount_mzn":115}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var quote ledger.Quote
	decode(t, rec, &quote)
	assert.InDelta(t, 119.84, quote.CreditedKWh, 1e-9)

	rec = srv.operator(t, http.MethodPost, "/api/recharges", `{"amount_mzn":115}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var recharge models.Recharge
	decode(t, rec, &recharge)
	assert.InDelta(t, 119.84, recharge.BalanceAfterKWh, 1e-9)

	var cmd map[string]string
	decode(t, srv.device(t, http.MethodGet, "/api/commands", ""), &cmd)
	assert.Equal(t, "RELAY1_ON", cmd["command"])

	var list struct {
		Items    []models.Recharge   `json:"items"`
		PageInfo repository.PageInfo `json:"page_info"`
	}
	decode(t, srv.operator(t, http.MethodGet, "/api/recharges?page=1", ""), &list)
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.PageInfo.Total)

	assert.Equal(t, http.StatusBadRequest, srv.operator(t, http.MethodPost, "/api/recharges", `{"amount_mzn":-1}`).Code)
}

func TestSetPrice(t *testing.T) {
	srv := newTestServer(t, 10)

	rec := srv.operator(t, http.MethodPut, "/api/ledger/price", `{"price_per_kwh":0.9}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state models.LedgerState
	decode(t, srv.operator(t, http.MethodGet, "/api/ledger", ""), &state)
	assert.Equal(t, 0.9, state.PricePerKWh)

	assert.Equal(t, http.StatusBadRequest, srv.operator(t, http.MethodPut, "/api/ledger/price", `{"price_per_kwh":0}`).Code)
}

func TestMeterReadingsPagination(t *testing.T) {
	srv := newTestServer(t, 10)
	var page struct {
		Items    []models.MeterReading `json:"items"`
		PageInfo repository.PageInfo   `json:"page_info"`
	}
	decode(t, srv.operator(t, http.MethodGet, "/api/meters/pzem1/readings?page=2&per_page=5", ""), &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "pzem1", page.Items[0].MeterID)
	assert.Equal(t, 2, page.PageInfo.Page)
	assert.Equal(t, 5, page.PageInfo.PerPage)
}

func TestPeaksFallBackToLiveCacheThenUseStoredReadings(t *testing.T) {
	srv := newTestServer(t, 10)

	rec := srv.device(t, http.MethodPost, "/api/telemetry", `{"meters":{"pzem1":{"energy":100,"power":640},"pzem2":{"energy":50,"power":1210}}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body struct {
		Period string      `json:"period"`
		Peak   models.Peak `json:"peak"`
	}
	rec = srv.operator(t, http.MethodGet, "/api/peaks", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &body)
	assert.Equal(t, "day", body.Period)
	assert.True(t, body.Peak.Live)
	assert.Equal(t, "pzem2", body.Peak.MeterID)
	assert.Equal(t, 1210.0, body.Peak.PowerW)

	stored := models.Peak{MeterID: "pzem1", PowerW: 3100, At: time.Date(2025, 11, 18, 19, 5, 0, 0, time.UTC)}
	srv.store.peak = &stored
	rec = srv.operator(t, http.MethodGet, "/api/peaks?period=WEEK", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &body)
	assert.Equal(t, "week", body.Period)
	assert.Equal(t, stored, body.Peak)

	assert.Equal(t, http.StatusBadRequest, srv.operator(t, http.MethodGet, "/api/peaks?period=year", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, srv.operator(t, http.MethodPost, "/api/peaks", "").Code)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/peaks", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPeakWeekDays(t *testing.T) {
	srv := newTestServer(t, 10)
	monday := time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC)
	srv.store.daily = map[time.Time]float64{
		monday.AddDate(0, 0, 1): 2200,
		monday.AddDate(0, 0, 4): 900,
	}

	var body struct {
		Days []models.DailyPeak `json:"days"`
	}
	rec := srv.operator(t, http.MethodGet, "/api/peaks/week-days", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &body)
	require.Len(t, body.Days, 7)
	assert.Equal(t, "Mon (17)", body.Days[0].Label)
	assert.Equal(t, "Sun (23)", body.Days[6].Label)
	assert.Equal(t, 2200.0, body.Days[1].PowerW)
	// Friday is still ahead of the test clock.
	assert.Equal(t, 0.0, body.Days[4].PowerW)
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t, 10)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"ops@example.com","password":"secret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "tok", body["token"])
	assert.Equal(t, "Bearer", body["token_type"])

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"ops@example.com","password":"bad"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWriteAppErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.Invalid("x", "bad"), http.StatusBadRequest},
		{apperr.ErrNotFound, http.StatusNotFound},
		{apperr.Conflict("relay", "manual"), http.StatusConflict},
		{&apperr.PersistenceError{Op: "x", Err: errors.New("db")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := handlers.NewMeterHandlers(failingHistory{err: tc.err}, zap.NewNop())
		req := httptest.NewRequest(http.MethodGet, "/api/meters/pzem1/readings", nil)
		req.SetPathValue("id", "pzem1")
		rec := httptest.NewRecorder()
		h.Readings(rec, req)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

type failingHistory struct {
	err error
}

func (f failingHistory) ListAudit(context.Context, int64, repository.Page) ([]models.AuditEntry, repository.PageInfo, error) {
	return nil, repository.PageInfo{}, f.err
}

func (f failingHistory) ListRecharges(context.Context, repository.Page) ([]models.Recharge, repository.PageInfo, error) {
	return nil, repository.PageInfo{}, f.err
}

func (f failingHistory) ListReadings(context.Context, string, repository.Page) ([]models.MeterReading, repository.PageInfo, error) {
	return nil, repository.PageInfo{}, f.err
}
