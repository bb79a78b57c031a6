package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prepaidgrid/backend/services/control-service/internal/models"
)

// PeakPower returns the stored reading with the highest power in [from, to). The
// boolean is false when no reading falls in the range.
func (s *Store) PeakPower(ctx context.Context, from, to time.Time) (models.Peak, bool, error) {
	const query = `
		SELECT meter_id, power, recorded_at
		FROM meter_readings
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY power DESC, recorded_at ASC
		LIMIT 1
	`
	var p models.Peak
	err := s.db.QueryRowContext(ctx, query, from, to).Scan(&p.MeterID, &p.PowerW, &p.At)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Peak{}, false, nil
	}
	if err != nil {
		return models.Peak{}, false, fmt.Errorf("peak power: %w", err)
	}
	return p, true, nil
}

// DailyPeakPower returns the highest power per UTC day in [from, to), keyed by the
// day's midnight. Days without readings are absent.
func (s *Store) DailyPeakPower(ctx context.Context, from, to time.Time) (map[time.Time]float64, error) {
	const query = `
		SELECT (recorded_at AT TIME ZONE 'UTC')::date AS day, MAX(power)
		FROM meter_readings
		WHERE recorded_at >= $1 AND recorded_at < $2
		GROUP BY day
		ORDER BY day
	`
	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("daily peaks: %w", err)
	}
	defer rows.Close()

	out := make(map[time.Time]float64)
	for rows.Next() {
		var (
			day  time.Time
			peak float64
		)
		if err := rows.Scan(&day, &peak); err != nil {
			return nil, fmt.Errorf("scan daily peak: %w", err)
		}
		y, m, d := day.Date()
		out[time.Date(y, m, d, 0, 0, 0, 0, time.UTC)] = peak
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily peaks: %w", err)
	}
	return out, nil
}
