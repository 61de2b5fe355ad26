package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Execer is the part of *database.DB the aggregators use
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const hourlyQuery = `
	INSERT INTO hourly_predictions (
		sensor_id, hour_timestamp, sample_count, leak_count,
		avg_probability, max_probability, avg_pressure, avg_flow
	)
	SELECT
		sensor_id,
		$1 AS hour_timestamp,
		COUNT(*) AS sample_count,
		COUNT(*) FILTER (WHERE threshold_exceeded) AS leak_count,
		AVG(leak_probability) AS avg_probability,
		MAX(leak_probability) AS max_probability,
		AVG(pressure) AS avg_pressure,
		AVG(flow) AS avg_flow
	FROM
		predictions
	WHERE
		observed_at >= $1 AND observed_at < $2
	GROUP BY
		sensor_id
	ON CONFLICT (sensor_id, hour_timestamp) DO UPDATE
	SET
		sample_count = EXCLUDED.sample_count,
		leak_count = EXCLUDED.leak_count,
		avg_probability = EXCLUDED.avg_probability,
		max_probability = EXCLUDED.max_probability,
		avg_pressure = EXCLUDED.avg_pressure,
		avg_flow = EXCLUDED.avg_flow
`

// HourlyAggregator rolls predictions up per sensor and hour
type HourlyAggregator struct {
	db     Execer
	logger *slog.Logger
	now    func() time.Time
}

// NewHourlyAggregator creates a new hourly aggregator
func NewHourlyAggregator(db Execer, logger *slog.Logger) *HourlyAggregator {
	return &HourlyAggregator{db: db, logger: logger, now: time.Now}
}

// Aggregate rolls up the hour containing targetHour
func (h *HourlyAggregator) Aggregate(ctx context.Context, targetHour time.Time) error {
	startTime := targetHour.UTC().Truncate(time.Hour)
	endTime := startTime.Add(time.Hour)

	result, err := h.db.ExecContext(ctx, hourlyQuery, startTime, endTime)
	if err != nil {
		return fmt.Errorf("failed to aggregate hourly predictions: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	h.logger.Info("hourly aggregation completed",
		slog.Time("hour", startTime), slog.Int64("sensors", rowsAffected))

	return nil
}

// AggregatePreviousHour aggregates the previous full hour
func (h *HourlyAggregator) AggregatePreviousHour(ctx context.Context) error {
	return h.Aggregate(ctx, h.now().Add(-time.Hour))
}

// NextRun returns when the hourly aggregation should next run
func (h *HourlyAggregator) NextRun(delay time.Duration) time.Time {
	return NextHourlyRun(h.now(), delay)
}

// NextHourlyRun returns the next HH:00+delay strictly after now
func NextHourlyRun(now time.Time, delay time.Duration) time.Time {
	nextRun := now.Truncate(time.Hour).Add(delay)
	for !nextRun.After(now) {
		nextRun = nextRun.Add(time.Hour)
	}
	return nextRun
}
