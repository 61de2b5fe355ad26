package database

import (
	"time"
)

// Sensor is a registered pipe sensor
type Sensor struct {
	SensorID  string
	Lat       *float64
	Lng       *float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Prediction is one served leak prediction
type Prediction struct {
	PredictionID      string
	SensorID          string
	ObservedAt        time.Time
	ReceivedAt        time.Time
	Pressure          float64
	Flow              float64
	Temperature       float64
	LeakProbability   float64
	Prediction        int
	Confidence        float64
	ThresholdExceeded bool
	Threshold         float64
	ModelID           string
	CreatedAt         time.Time
}

// HourlyPrediction is the per-sensor rollup of one hour of predictions
type HourlyPrediction struct {
	ID             int64
	SensorID       string
	HourTimestamp  time.Time
	SampleCount    int
	LeakCount      int
	AvgProbability float64
	MaxProbability float64
	AvgPressure    float64
	AvgFlow        float64
	CreatedAt      time.Time
}

// DailySummary represents daily min/max readings for a sensor
type DailySummary struct {
	ID             int64
	SensorID       string
	Date           time.Time
	MinPressure    float64
	MaxPressure    float64
	MinFlow        float64
	MaxFlow        float64
	MinTemperature float64
	MaxTemperature float64
	LeakCount      int
	CreatedAt      time.Time
}

// AlarmRule configures when repeated leak predictions raise an alarm.
// SensorID "*" is the fleet-wide default.
type AlarmRule struct {
	ID          int
	SensorID    string
	Consecutive int
	MinDuration time.Duration
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LeakAlarm represents a logged alarm event
type LeakAlarm struct {
	AlarmID         int64
	SensorID        string
	LeakProbability float64
	Threshold       float64
	Consecutive     int
	StartTime       time.Time
	EndTime         *time.Time
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	AlarmStatusActive  = "ACTIVE"
	AlarmStatusCleared = "CLEARED"

	DefaultRuleSensor = "*"
)
