package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smukkama/leak-server/internal/feature"
)

// Accepted measurement ranges for the HTTP API.
const (
	MinPressure    = 0.0
	MaxPressure    = 150.0
	MinFlow        = 0.0
	MaxFlow        = 500.0
	MinTemperature = -20.0
	MaxTemperature = 100.0
)

// timestampLayouts are tried in order; values without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// PredictionRequest is the JSON body of POST /api/predict.
type PredictionRequest struct {
	Timestamp   string   `json:"timestamp,omitempty"`
	SensorID    string   `json:"sensor_id"`
	Pressure    *float64 `json:"pressure"`
	Flow        *float64 `json:"flow"`
	Temperature *float64 `json:"temperature"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
}

// PredictionResponse is the JSON answer for a single prediction.
type PredictionResponse struct {
	LeakProbability   float64   `json:"leak_probability"`
	Prediction        int       `json:"prediction"`
	Confidence        float64   `json:"confidence"`
	ThresholdExceeded bool      `json:"threshold_exceeded"`
	Timestamp         time.Time `json:"timestamp"`
	ModelID           string    `json:"model_id"`
}

// BatchPredictionResponse answers POST /api/predict/batch.
type BatchPredictionResponse struct {
	Predictions []PredictionResponse `json:"predictions"`
	Count       int                  `json:"count"`
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// ToObservation validates the request and converts it to a feature.Observation.
// An empty timestamp is replaced by now.
func (r *PredictionRequest) ToObservation(now time.Time) (feature.Observation, error) {
	if err := r.Validate(); err != nil {
		return feature.Observation{}, err
	}

	ts := now
	if r.Timestamp != "" {
		parsed, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return feature.Observation{}, &feature.ValidationError{Field: "timestamp", Reason: err.Error()}
		}
		ts = parsed
	}

	return feature.Observation{
		SensorID:    strings.TrimSpace(r.SensorID),
		Timestamp:   ts,
		Pressure:    r.Pressure,
		Flow:        r.Flow,
		Temperature: r.Temperature,
		Lat:         r.Lat,
		Lng:         r.Lng,
	}, nil
}

// Validate checks presence and ranges of the request fields.
func (r *PredictionRequest) Validate() error {
	if strings.TrimSpace(r.SensorID) == "" {
		return &feature.ValidationError{Field: "sensor_id", Reason: "field is required"}
	}
	if err := checkRange("pressure", r.Pressure, MinPressure, MaxPressure); err != nil {
		return err
	}
	if err := checkRange("flow", r.Flow, MinFlow, MaxFlow); err != nil {
		return err
	}
	if err := checkRange("temperature", r.Temperature, MinTemperature, MaxTemperature); err != nil {
		return err
	}
	return validateCoordinates(r.Lat, r.Lng)
}

// validateCoordinates accepts no coordinates or a complete in-range pair.
func validateCoordinates(lat, lng *float64) error {
	if lat == nil && lng == nil {
		return nil
	}
	if lat == nil {
		return &feature.ValidationError{Field: "lat", Reason: "required when lng is set"}
	}
	if lng == nil {
		return &feature.ValidationError{Field: "lng", Reason: "required when lat is set"}
	}
	if err := checkRange("lat", lat, -90, 90); err != nil {
		return err
	}
	return checkRange("lng", lng, -180, 180)
}

func checkRange(field string, v *float64, lo, hi float64) error {
	if v == nil {
		return &feature.ValidationError{Field: field, Reason: "field is required"}
	}
	if *v < lo || *v > hi {
		return &feature.ValidationError{Field: field, Reason: fmt.Sprintf("%v outside [%v, %v]", *v, lo, hi)}
	}
	return nil
}

// ParseTimestamp accepts RFC3339 and the zone-less forms used by the sensors.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q (want RFC3339 or YYYY-MM-DD HH:MM:SS)", s)
}

// NewPredictionResponse builds the API answer from a decision.
func NewPredictionResponse(r feature.Result, ts time.Time, modelID string) PredictionResponse {
	return PredictionResponse{
		LeakProbability:   r.LeakProbability,
		Prediction:        r.Prediction,
		Confidence:        r.Confidence,
		ThresholdExceeded: r.ThresholdExceeded,
		Timestamp:         ts,
		ModelID:           modelID,
	}
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}
