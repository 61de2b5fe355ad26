package alarming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smukkama/leak-server/internal/database"
	"github.com/smukkama/leak-server/internal/protocol"
	"github.com/smukkama/leak-server/internal/queue"
	"github.com/smukkama/leak-server/pkg/config"
)

// StateStore holds the per-sensor alarm state; StateManager implements it.
type StateStore interface {
	GetState(ctx context.Context, sensorID string) (*AlarmState, error)
	SetState(ctx context.Context, sensorID string, state *AlarmState) error
	DeleteState(ctx context.Context, sensorID string) error
}

// AlarmStore persists alarm rules and raised alarms; *database.DB implements it.
type AlarmStore interface {
	GetAlarmRule(ctx context.Context, sensorID string) (*database.AlarmRule, error)
	InsertLeakAlarm(ctx context.Context, alarm *database.LeakAlarm) error
	UpdateLeakAlarmCleared(ctx context.Context, alarmID int64, endTime time.Time) error
}

// Evaluator runs prediction events through the per-sensor alarm state machine
type Evaluator struct {
	store         AlarmStore
	stateManager  StateStore
	alarmProducer queue.Publisher
	logger        *slog.Logger
	defaults      config.AlarmConfig

	mu        sync.Mutex
	ruleCache map[string]cachedRule
	cacheTTL  time.Duration
	now       func() time.Time
}

type cachedRule struct {
	rule     *database.AlarmRule
	loadedAt time.Time
}

// NewEvaluator creates a new alarm evaluator. defaults apply when no rule row
// matches a sensor.
func NewEvaluator(store AlarmStore, stateManager StateStore, alarmProducer queue.Publisher, defaults config.AlarmConfig, logger *slog.Logger) *Evaluator {
	ttl := defaults.RuleCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Evaluator{
		store:         store,
		stateManager:  stateManager,
		alarmProducer: alarmProducer,
		logger:        logger,
		defaults:      defaults,
		ruleCache:     make(map[string]cachedRule),
		cacheTTL:      ttl,
		now:           time.Now,
	}
}

// EvaluatePrediction advances the alarm state of the event's sensor
func (e *Evaluator) EvaluatePrediction(ctx context.Context, ev *protocol.PredictionEvent) error {
	if ev.SensorID == "" {
		return fmt.Errorf("prediction event without sensor_id")
	}

	rule, err := e.getRule(ctx, ev.SensorID)
	if err != nil {
		return fmt.Errorf("failed to get alarm rule: %w", err)
	}
	if !rule.IsActive {
		return nil
	}

	state, err := e.stateManager.GetState(ctx, ev.SensorID)
	if err != nil {
		return err
	}

	now := e.now()
	if ev.ThresholdExceeded {
		return e.handleBreach(ctx, ev, rule, state, now)
	}
	return e.handleNoBreach(ctx, ev, state, now)
}

func (e *Evaluator) handleBreach(ctx context.Context, ev *protocol.PredictionEvent, rule *database.AlarmRule, state *AlarmState, now time.Time) error {
	switch state.Status {
	case AlarmStateClear:
		state = &AlarmState{
			Status:          AlarmStatePending,
			BreachStartTime: observedAt(ev, now),
			LastChecked:     now,
			Consecutive:     1,
			PeakProbability: ev.LeakProbability,
		}
		if e.ready(rule, state, ev, now) {
			return e.triggerAlarm(ctx, ev, state, now)
		}
		return e.stateManager.SetState(ctx, ev.SensorID, state)

	case AlarmStatePending:
		state.Consecutive++
		state.LastChecked = now
		state.PeakProbability = max(state.PeakProbability, ev.LeakProbability)

		if e.ready(rule, state, ev, now) {
			return e.triggerAlarm(ctx, ev, state, now)
		}
		return e.stateManager.SetState(ctx, ev.SensorID, state)

	case AlarmStateActive:
		state.LastChecked = now
		state.Consecutive++
		state.PeakProbability = max(state.PeakProbability, ev.LeakProbability)
		if !state.Notified {
			return e.notifyTriggered(ctx, ev.SensorID, state)
		}
		return e.stateManager.SetState(ctx, ev.SensorID, state)
	}

	return nil
}

// ready reports whether a pending breach has lasted long enough to alarm.
func (e *Evaluator) ready(rule *database.AlarmRule, state *AlarmState, ev *protocol.PredictionEvent, now time.Time) bool {
	if state.Consecutive < rule.Consecutive {
		return false
	}
	return observedAt(ev, now).Sub(state.BreachStartTime) >= rule.MinDuration
}

func (e *Evaluator) handleNoBreach(ctx context.Context, ev *protocol.PredictionEvent, state *AlarmState, now time.Time) error {
	switch state.Status {
	case AlarmStatePending:
		// Breach ended before alarm triggered
		return e.stateManager.DeleteState(ctx, ev.SensorID)

	case AlarmStateActive:
		return e.clearAlarm(ctx, ev, state, now)
	}

	return nil
}

// triggerAlarm records the alarm and saves ALARMING with Notified unset before
// publishing. An unpublished alarm is announced by the next evaluation or by
// Recover.
func (e *Evaluator) triggerAlarm(ctx context.Context, ev *protocol.PredictionEvent, state *AlarmState, now time.Time) error {
	e.logger.Warn("leak alarm triggered",
		slog.String("sensor_id", ev.SensorID),
		slog.Float64("leak_probability", ev.LeakProbability),
		slog.Int("consecutive", state.Consecutive),
	)

	alarm := &database.LeakAlarm{
		SensorID:        ev.SensorID,
		LeakProbability: state.PeakProbability,
		Threshold:       ev.Threshold,
		Consecutive:     state.Consecutive,
		StartTime:       state.BreachStartTime,
		Status:          database.AlarmStatusActive,
	}
	if err := e.store.InsertLeakAlarm(ctx, alarm); err != nil {
		return fmt.Errorf("failed to insert leak alarm: %w", err)
	}

	state.Status = AlarmStateActive
	state.AlarmID = alarm.AlarmID
	state.Threshold = ev.Threshold
	state.LastChecked = now
	state.Notified = false
	if err := e.stateManager.SetState(ctx, ev.SensorID, state); err != nil {
		return err
	}

	return e.notifyTriggered(ctx, ev.SensorID, state)
}

// notifyTriggered publishes the triggered notification for an ALARMING state
// and marks it notified.
func (e *Evaluator) notifyTriggered(ctx context.Context, sensorID string, state *AlarmState) error {
	err := e.sendNotification(ctx, &protocol.AlarmNotification{
		Type:            protocol.AlarmTypeTriggered,
		SensorID:        sensorID,
		LeakProbability: state.PeakProbability,
		Threshold:       state.Threshold,
		Consecutive:     state.Consecutive,
		StartTime:       state.BreachStartTime,
		AlarmID:         state.AlarmID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish alarm: %w", err)
	}

	state.Notified = true
	return e.stateManager.SetState(ctx, sensorID, state)
}

// clearAlarm publishes the cleared notification before dropping the state, so
// a failed publish leaves the sensor ALARMING and the clear is redone.
func (e *Evaluator) clearAlarm(ctx context.Context, ev *protocol.PredictionEvent, state *AlarmState, now time.Time) error {
	e.logger.Info("leak alarm cleared",
		slog.String("sensor_id", ev.SensorID),
		slog.Int64("alarm_id", state.AlarmID),
	)

	if state.AlarmID > 0 {
		if err := e.store.UpdateLeakAlarmCleared(ctx, state.AlarmID, observedAt(ev, now)); err != nil {
			return fmt.Errorf("failed to update leak alarm: %w", err)
		}
	}

	err := e.sendNotification(ctx, &protocol.AlarmNotification{
		Type:            protocol.AlarmTypeCleared,
		SensorID:        ev.SensorID,
		LeakProbability: ev.LeakProbability,
		Threshold:       ev.Threshold,
		Consecutive:     state.Consecutive,
		StartTime:       state.BreachStartTime,
		AlarmID:         state.AlarmID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish alarm clear: %w", err)
	}

	return e.stateManager.DeleteState(ctx, ev.SensorID)
}

// RecoverSummary counts the stored alarm states seen by Recover.
type RecoverSummary struct {
	Pending    int
	Active     int
	Renotified int
}

// Recover publishes the triggered notification for every ALARMING state that
// was saved but never announced, typically after a crash between the two.
func (e *Evaluator) Recover(ctx context.Context, states map[string]*AlarmState) (RecoverSummary, error) {
	var summary RecoverSummary
	for sensorID, state := range states {
		switch state.Status {
		case AlarmStatePending:
			summary.Pending++
		case AlarmStateActive:
			summary.Active++
			if state.Notified {
				continue
			}
			if err := e.notifyTriggered(ctx, sensorID, state); err != nil {
				return summary, fmt.Errorf("sensor %s: %w", sensorID, err)
			}
			summary.Renotified++
		}
	}
	return summary, nil
}

func (e *Evaluator) sendNotification(ctx context.Context, notification *protocol.AlarmNotification) error {
	data, err := protocol.EncodeAlarmNotification(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	return e.alarmProducer.Publish(ctx, notification.SensorID, data)
}

// getRule returns the sensor's rule, falling back to the configured defaults
// when the table has neither a sensor row nor a "*" row.
func (e *Evaluator) getRule(ctx context.Context, sensorID string) (*database.AlarmRule, error) {
	e.mu.Lock()
	cached, ok := e.ruleCache[sensorID]
	e.mu.Unlock()
	if ok && e.now().Sub(cached.loadedAt) < e.cacheTTL {
		return cached.rule, nil
	}

	rule, err := e.store.GetAlarmRule(ctx, sensorID)
	if errors.Is(err, database.ErrNotFound) {
		rule = &database.AlarmRule{
			SensorID:    database.DefaultRuleSensor,
			Consecutive: e.defaults.Consecutive,
			MinDuration: e.defaults.MinDuration,
			IsActive:    true,
		}
	} else if err != nil {
		return nil, err
	}
	if rule.Consecutive < 1 {
		rule.Consecutive = 1
	}

	e.mu.Lock()
	e.ruleCache[sensorID] = cachedRule{rule: rule, loadedAt: e.now()}
	e.mu.Unlock()

	return rule, nil
}

func observedAt(ev *protocol.PredictionEvent, now time.Time) time.Time {
	if ev.ObservedAt.IsZero() {
		return now
	}
	return ev.ObservedAt
}
