// Package peaks reports the highest power drawn per day, week and month.
package peaks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

var weekdayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Store reads stored meter readings.
type Store interface {
	PeakPower(ctx context.Context, from, to time.Time) (models.Peak, bool, error)
	DailyPeakPower(ctx context.Context, from, to time.Time) (map[time.Time]float64, error)
}

// LiveMeters exposes the telemetry cache.
type LiveMeters interface {
	Meters() []models.MeterReading
}

type Service struct {
	store  Store
	live   LiveMeters
	now    func() time.Time
	logger *zap.Logger
}

func NewService(store Store, live LiveMeters, now func() time.Time, logger *zap.Logger) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, live: live, now: now, logger: logger}
}

// Window returns the UTC range [from, to) of the period containing now. Weeks start on
// Monday.
func Window(period Period, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case PeriodDay:
		return day, day.AddDate(0, 0, 1), nil
	case PeriodWeek:
		monday := weekStart(day)
		return monday, monday.AddDate(0, 0, 7), nil
	case PeriodMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first, first.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, apperr.Invalid("period", "must be day, week or month, got %q", period)
	}
}

func weekStart(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Peak returns the highest stored reading of the period. When nothing was stored yet the
// highest live reading in the cache is reported instead.
func (s *Service) Peak(ctx context.Context, period Period) (models.Peak, error) {
	now := s.now()
	from, to, err := Window(period, now)
	if err != nil {
		return models.Peak{}, err
	}

	peak, ok, err := s.store.PeakPower(ctx, from, to)
	if err != nil {
		return models.Peak{}, fmt.Errorf("%s peak: %w", period, err)
	}
	if ok {
		return peak, nil
	}

	live := models.Peak{At: now, Live: true}
	for _, m := range s.live.Meters() {
		if live.MeterID == "" || m.Power > live.PowerW {
			live.MeterID = m.MeterID
			live.PowerW = m.Power
		}
	}
	s.logger.Debug("no stored readings for period, using live cache",
		zap.String("period", string(period)),
		zap.String("meter_id", live.MeterID),
		zap.Float64("power_w", live.PowerW),
	)
	return live, nil
}

// WeekDays returns the daily peaks of the current week, Monday to Sunday. Days still ahead
// and days without readings report zero.
func (s *Service) WeekDays(ctx context.Context) ([]models.DailyPeak, error) {
	now := s.now()
	from, to, err := Window(PeriodWeek, now)
	if err != nil {
		return nil, err
	}

	byDay, err := s.store.DailyPeakPower(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("week peaks: %w", err)
	}

	out := make([]models.DailyPeak, 0, len(weekdayNames))
	for i, name := range weekdayNames {
		day := from.AddDate(0, 0, i)
		entry := models.DailyPeak{Date: day, Label: fmt.Sprintf("%s (%d)", name, day.Day())}
		if !day.After(now) {
			entry.PowerW = byDay[day]
		}
		out = append(out, entry)
	}
	return out, nil
}
