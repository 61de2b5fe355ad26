package sensorstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "sensor_state:"
	indexKey  = "sensor_state_index"
	stateTTL  = 7 * 24 * time.Hour
)

// ErrNotFound is returned when no state is cached for a sensor.
var ErrNotFound = errors.New("sensor state not found")

// SensorState is the latest reading and prediction seen for one sensor.
type SensorState struct {
	SensorID        string    `json:"sensor_id"`
	Pressure        float64   `json:"pressure"`
	Flow            float64   `json:"flow"`
	Temperature     float64   `json:"temperature"`
	LeakProbability float64   `json:"leak_probability"`
	Prediction      int       `json:"prediction"`
	Lat             *float64  `json:"lat,omitempty"`
	Lng             *float64  `json:"lng,omitempty"`
	ObservedAt      time.Time `json:"observed_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store keeps sensor states in Redis. Each state lives under its own key and a
// sorted set indexes sensors by update time for the recent listing.
type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func stateKey(sensorID string) string {
	return keyPrefix + sensorID
}

// Upsert replaces the state of a sensor, keeping coordinates from the previous
// state when the new one has none.
func (s *Store) Upsert(ctx context.Context, state *SensorState) error {
	if state.Lat == nil || state.Lng == nil {
		prev, err := s.Get(ctx, state.SensorID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if prev != nil {
			if state.Lat == nil {
				state.Lat = prev.Lat
			}
			if state.Lng == nil {
				state.Lng = prev.Lng
			}
		}
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, stateKey(state.SensorID), data, stateTTL)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(state.UpdatedAt.UnixMilli()), Member: state.SensorID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}
	return nil
}

// Get retrieves the state of one sensor
func (s *Store) Get(ctx context.Context, sensorID string) (*SensorState, error) {
	data, err := s.redis.Get(ctx, stateKey(sensorID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state SensorState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Recent returns up to limit sensor states, most recently updated first.
// Index entries whose state has expired are dropped.
func (s *Store) Recent(ctx context.Context, limit int) ([]*SensorState, error) {
	if limit <= 0 {
		return nil, nil
	}

	ids, err := s.redis.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor index: %w", err)
	}
	if len(ids) == 0 {
		return []*SensorState{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = stateKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor states: %w", err)
	}

	states := make([]*SensorState, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var state SensorState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			continue
		}
		states = append(states, &state)
	}

	if len(expired) > 0 {
		s.redis.ZRem(ctx, indexKey, expired...)
	}
	return states, nil
}
