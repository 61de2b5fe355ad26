package protocol

import (
	"encoding/json"
	"time"
)

// PredictionEvent is published to the predictions topic for every served prediction.
type PredictionEvent struct {
	PredictionID      string    `json:"prediction_id"`
	SensorID          string    `json:"sensor_id"`
	ObservedAt        time.Time `json:"observed_at"`
	ReceivedAt        time.Time `json:"received_at"`
	Pressure          float64   `json:"pressure"`
	Flow              float64   `json:"flow"`
	Temperature       float64   `json:"temperature"`
	LeakProbability   float64   `json:"leak_probability"`
	Prediction        int       `json:"prediction"`
	Confidence        float64   `json:"confidence"`
	ThresholdExceeded bool      `json:"threshold_exceeded"`
	Threshold         float64   `json:"threshold"`
	ModelID           string    `json:"model_id"`
	Lat               *float64  `json:"lat,omitempty"`
	Lng               *float64  `json:"lng,omitempty"`
}

// AlarmNotification is the message format for leak alarm notifications
type AlarmNotification struct {
	Type            string    `json:"type"` // LEAK_ALARM_TRIGGERED, LEAK_ALARM_CLEARED
	SensorID        string    `json:"sensor_id"`
	LeakProbability float64   `json:"leak_probability"`
	Threshold       float64   `json:"threshold"`
	Consecutive     int       `json:"consecutive"`
	StartTime       time.Time `json:"start_time"`
	AlarmID         int64     `json:"alarm_id,omitempty"`
}

const (
	AlarmTypeTriggered = "LEAK_ALARM_TRIGGERED"
	AlarmTypeCleared   = "LEAK_ALARM_CLEARED"
)

// RetrainRequest asks the external training pipeline for a new model.
type RetrainRequest struct {
	RequestID    string    `json:"request_id"`
	RequestedAt  time.Time `json:"requested_at"`
	CurrentModel string    `json:"current_model"`
}

// EncodePredictionEvent encodes a PredictionEvent to JSON
func EncodePredictionEvent(ev *PredictionEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodePredictionEvent decodes JSON to PredictionEvent
func DecodePredictionEvent(data []byte) (*PredictionEvent, error) {
	var ev PredictionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// EncodeAlarmNotification encodes an AlarmNotification to JSON
func EncodeAlarmNotification(alarm *AlarmNotification) ([]byte, error) {
	return json.Marshal(alarm)
}

// DecodeAlarmNotification decodes JSON to AlarmNotification
func DecodeAlarmNotification(data []byte) (*AlarmNotification, error) {
	var alarm AlarmNotification
	if err := json.Unmarshal(data, &alarm); err != nil {
		return nil, err
	}
	return &alarm, nil
}
