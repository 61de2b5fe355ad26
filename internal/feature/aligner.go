package feature

import (
	"math"
	"time"
)

// Observation is one raw sensor reading as received from a client.
// Measurements are pointers so that an absent field can be told apart from zero.
type Observation struct {
	SensorID    string
	Timestamp   time.Time
	Pressure    *float64
	Flow        *float64
	Temperature *float64

	// Lat and Lng locate the sensor for storage; they are not model inputs.
	Lat *float64
	Lng *float64
}

// Vector is a feature vector positionally aligned to a Schema.
type Vector []float64

// Validate checks the required fields of an observation.
func (o Observation) Validate() error {
	if o.SensorID == "" {
		return missing("sensor_id")
	}
	if o.Timestamp.IsZero() {
		return missing("timestamp")
	}
	measurements := []struct {
		name  string
		value *float64
	}{
		{"pressure", o.Pressure},
		{"flow", o.Flow},
		{"temperature", o.Temperature},
	}
	for _, m := range measurements {
		if m.value == nil {
			return missing(m.name)
		}
		if math.IsNaN(*m.value) || math.IsInf(*m.value, 0) {
			return &ValidationError{Field: m.name, Reason: "must be a finite number"}
		}
	}
	return nil
}

// Align builds the feature vector for obs in schema order. Columns the schema
// names but that are not derived from the observation are left at 0.
func (s *Schema) Align(obs Observation) (Vector, error) {
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	vec := make(Vector, len(s.columns))
	for i, col := range s.columns {
		switch col.kind {
		case kindPressure:
			vec[i] = *obs.Pressure
		case kindFlow:
			vec[i] = *obs.Flow
		case kindTemperature:
			vec[i] = *obs.Temperature
		case kindHour:
			vec[i] = float64(obs.Timestamp.Hour())
		case kindDay:
			vec[i] = float64(obs.Timestamp.Day())
		case kindMonth:
			vec[i] = float64(obs.Timestamp.Month())
		case kindSensor:
			if col.sensorID == obs.SensorID {
				vec[i] = 1
			}
		}
	}

	return vec, nil
}

// Align is a convenience wrapper around Schema.Align.
func Align(obs Observation, schema *Schema) (Vector, error) {
	return schema.Align(obs)
}
