package aggregation

import (
	"context"
	"log/slog"
	"time"

	"github.com/smukkama/leak-server/internal/timer"
)

const (
	hourlyTaskID = "hourly-aggregation"
	dailyTaskID  = "daily-aggregation"
)

// runTimeout bounds a single aggregation query
const runTimeout = 10 * time.Minute

// Scheduler keeps the hourly and daily aggregations scheduled on a timer manager.
// Each run schedules the next one.
type Scheduler struct {
	timers *timer.Manager
	hourly *HourlyAggregator
	daily  *DailyAggregator
	logger *slog.Logger
	ctx    context.Context
}

func NewScheduler(ctx context.Context, timers *timer.Manager, hourly *HourlyAggregator, daily *DailyAggregator, logger *slog.Logger) *Scheduler {
	return &Scheduler{timers: timers, hourly: hourly, daily: daily, logger: logger, ctx: ctx}
}

// ScheduleHourly schedules the hourly rollup delay past every hour
func (s *Scheduler) ScheduleHourly(delay time.Duration) error {
	nextRun := s.hourly.NextRun(delay)
	s.logger.Info("next hourly aggregation scheduled", slog.Time("at", nextRun))

	return s.timers.Schedule(hourlyTaskID, nextRun, func() {
		ctx, cancel := context.WithTimeout(s.ctx, runTimeout)
		defer cancel()
		if err := s.hourly.AggregatePreviousHour(ctx); err != nil {
			s.logger.Error("hourly aggregation failed", "error", err)
		}
		if err := s.ScheduleHourly(delay); err != nil {
			s.logger.Warn("hourly aggregation not rescheduled", "error", err)
		}
	})
}

// ScheduleDaily schedules the daily summary at timeOfDay ("HH:MM")
func (s *Scheduler) ScheduleDaily(timeOfDay string) error {
	nextRun, err := s.daily.NextRun(timeOfDay)
	if err != nil {
		return err
	}
	s.logger.Info("next daily aggregation scheduled", slog.Time("at", nextRun))

	return s.timers.Schedule(dailyTaskID, nextRun, func() {
		ctx, cancel := context.WithTimeout(s.ctx, runTimeout)
		defer cancel()
		if err := s.daily.AggregatePreviousDay(ctx); err != nil {
			s.logger.Error("daily aggregation failed", "error", err)
		}
		if err := s.ScheduleDaily(timeOfDay); err != nil {
			s.logger.Warn("daily aggregation not rescheduled", "error", err)
		}
	})
}
