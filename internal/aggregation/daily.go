package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const dailyQuery = `
	INSERT INTO daily_sensor_summaries (
		sensor_id, date,
		min_pressure, max_pressure,
		min_flow, max_flow,
		min_temperature, max_temperature,
		leak_count
	)
	SELECT
		sensor_id,
		$1::date AS date,
		MIN(pressure) AS min_pressure,
		MAX(pressure) AS max_pressure,
		MIN(flow) AS min_flow,
		MAX(flow) AS max_flow,
		MIN(temperature) AS min_temperature,
		MAX(temperature) AS max_temperature,
		COUNT(*) FILTER (WHERE threshold_exceeded) AS leak_count
	FROM
		predictions
	WHERE
		observed_at >= $1 AND observed_at < $2
	GROUP BY
		sensor_id
	ON CONFLICT (sensor_id, date) DO UPDATE
	SET
		min_pressure = EXCLUDED.min_pressure,
		max_pressure = EXCLUDED.max_pressure,
		min_flow = EXCLUDED.min_flow,
		max_flow = EXCLUDED.max_flow,
		min_temperature = EXCLUDED.min_temperature,
		max_temperature = EXCLUDED.max_temperature,
		leak_count = EXCLUDED.leak_count
`

// DailyAggregator writes per-sensor daily min/max summaries
type DailyAggregator struct {
	db     Execer
	logger *slog.Logger
	now    func() time.Time
}

// NewDailyAggregator creates a new daily aggregator
func NewDailyAggregator(db Execer, logger *slog.Logger) *DailyAggregator {
	return &DailyAggregator{db: db, logger: logger, now: time.Now}
}

// Aggregate summarizes the UTC day containing targetDate
func (d *DailyAggregator) Aggregate(ctx context.Context, targetDate time.Time) error {
	t := targetDate.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	result, err := d.db.ExecContext(ctx, dailyQuery, start, end)
	if err != nil {
		return fmt.Errorf("failed to aggregate daily summaries: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	d.logger.Info("daily aggregation completed",
		slog.String("date", start.Format("2006-01-02")), slog.Int64("sensors", rowsAffected))

	return nil
}

// AggregatePreviousDay aggregates the previous full day
func (d *DailyAggregator) AggregatePreviousDay(ctx context.Context) error {
	return d.Aggregate(ctx, d.now().UTC().AddDate(0, 0, -1))
}

// NextRun returns when the daily aggregation should next run
func (d *DailyAggregator) NextRun(timeOfDay string) (time.Time, error) {
	return NextDailyRun(d.now(), timeOfDay)
}

// NextDailyRun returns the next occurrence of timeOfDay ("HH:MM") after now,
// in now's location
func NextDailyRun(now time.Time, timeOfDay string) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !todayRun.After(now) {
		return todayRun.AddDate(0, 0, 1), nil
	}

	return todayRun, nil
}
