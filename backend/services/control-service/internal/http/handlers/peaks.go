package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/models"
	"prepaidgrid/backend/services/control-service/internal/peaks"
)

// PeakReporter answers power peak queries.
type PeakReporter interface {
	Peak(ctx context.Context, period peaks.Period) (models.Peak, error)
	WeekDays(ctx context.Context) ([]models.DailyPeak, error)
}

type PeakHandlers struct {
	reporter PeakReporter
	logger   *zap.Logger
}

func NewPeakHandlers(reporter PeakReporter, logger *zap.Logger) *PeakHandlers {
	return &PeakHandlers{reporter: reporter, logger: logger}
}

// Peak handles GET /api/peaks?period=day|week|month. The period defaults to day.
func (h *PeakHandlers) Peak(w http.ResponseWriter, r *http.Request) {
	period := peaks.Period(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("period"))))
	if period == "" {
		period = peaks.PeriodDay
	}
	peak, err := h.reporter.Peak(r.Context(), period)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"period": period, "peak": peak})
}

// WeekDays handles GET /api/peaks/week-days.
func (h *PeakHandlers) WeekDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.reporter.WeekDays(r.Context())
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days})
}
