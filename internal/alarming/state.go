package alarming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlarmState is the per-sensor position in the alarm state machine
type AlarmState struct {
	Status          string    `json:"status"` // CLEAR, PENDING_ALARM, ALARMING
	BreachStartTime time.Time `json:"breach_start_time"`
	LastChecked     time.Time `json:"last_checked"`
	Consecutive     int       `json:"consecutive"`
	PeakProbability float64   `json:"peak_probability"`
	Threshold       float64   `json:"threshold,omitempty"`
	AlarmID         int64     `json:"alarm_id,omitempty"`
	Notified        bool      `json:"notified,omitempty"` // triggered notification published
}

const (
	AlarmStateClear   = "CLEAR"
	AlarmStatePending = "PENDING_ALARM"
	AlarmStateActive  = "ALARMING"
)

const (
	stateKeyPrefix = "leak_alarm:"
	stateTTL       = 7 * 24 * time.Hour
)

// StateManager manages alarm states in Redis
type StateManager struct {
	redis *redis.Client
}

// NewStateManager creates a new state manager
func NewStateManager(redisClient *redis.Client) *StateManager {
	return &StateManager{redis: redisClient}
}

func stateKey(sensorID string) string {
	return stateKeyPrefix + sensorID
}

// GetState retrieves the alarm state of a sensor. A sensor without state is CLEAR.
func (sm *StateManager) GetState(ctx context.Context, sensorID string) (*AlarmState, error) {
	data, err := sm.redis.Get(ctx, stateKey(sensorID)).Result()
	if err == redis.Nil {
		return &AlarmState{Status: AlarmStateClear}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state AlarmState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// SetState saves the alarm state of a sensor
func (sm *StateManager) SetState(ctx context.Context, sensorID string, state *AlarmState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Stale states expire so a silent sensor does not stay pending forever
	if err := sm.redis.Set(ctx, stateKey(sensorID), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}

	return nil
}

// DeleteState removes the alarm state (returns to CLEAR)
func (sm *StateManager) DeleteState(ctx context.Context, sensorID string) error {
	return sm.redis.Del(ctx, stateKey(sensorID)).Err()
}

// GetAllStates returns every stored alarm state keyed by sensor id
func (sm *StateManager) GetAllStates(ctx context.Context) (map[string]*AlarmState, error) {
	states := make(map[string]*AlarmState)

	iter := sm.redis.Scan(ctx, 0, stateKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := sm.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var state AlarmState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			continue
		}

		states[strings.TrimPrefix(key, stateKeyPrefix)] = &state
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan alarm states: %w", err)
	}

	return states, nil
}
