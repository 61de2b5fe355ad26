package feature

import (
	"fmt"
	"strings"
)

// SensorColumnPrefix marks a one-hot sensor id column, e.g. "sensor_id_S002".
const SensorColumnPrefix = "sensor_id_"

type columnKind int

const (
	kindUnknown columnKind = iota
	kindPressure
	kindFlow
	kindTemperature
	kindHour
	kindDay
	kindMonth
	kindSensor
)

// baseColumns maps lower-cased column names to their kind. The verbose names are
// the ones written by the training scripts.
var baseColumns = map[string]columnKind{
	"pressure":         kindPressure,
	"pressure (bar)":   kindPressure,
	"flow":             kindFlow,
	"flow rate (l/s)":  kindFlow,
	"temperature":      kindTemperature,
	"temperature (°c)": kindTemperature,
	"hour":             kindHour,
	"day":              kindDay,
	"month":            kindMonth,
}

type column struct {
	name     string
	kind     columnKind
	sensorID string
}

// Schema is the ordered list of feature columns fixed at training time.
// A Schema is immutable after NewSchema and safe for concurrent use.
type Schema struct {
	columns []column
	sensors []string
}

// DefaultColumns is the column layout produced by the training pipeline for the
// S001..S010 fleet with S001 as the dropped reference category.
var DefaultColumns = []string{
	"pressure", "flow", "temperature", "hour", "day", "month",
	"sensor_id_S002", "sensor_id_S003", "sensor_id_S004", "sensor_id_S005",
	"sensor_id_S006", "sensor_id_S007", "sensor_id_S008", "sensor_id_S009", "sensor_id_S010",
}

// NewSchema validates the column list and resolves each column once.
func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("schema has no columns")
	}

	s := &Schema{columns: make([]column, 0, len(names))}
	seen := make(map[string]bool, len(names))

	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("schema column %d has an empty name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("schema column %q is duplicated", name)
		}
		seen[name] = true

		col := resolveColumn(name)
		if col.kind == kindSensor {
			s.sensors = append(s.sensors, col.sensorID)
		}
		s.columns = append(s.columns, col)
	}

	return s, nil
}

// MustSchema is NewSchema for static column lists; it panics on error.
func MustSchema(names []string) *Schema {
	s, err := NewSchema(names)
	if err != nil {
		panic(err)
	}
	return s
}

func resolveColumn(name string) column {
	lower := strings.ToLower(name)
	if kind, ok := baseColumns[lower]; ok {
		return column{name: name, kind: kind}
	}
	if strings.HasPrefix(lower, SensorColumnPrefix) && len(name) > len(SensorColumnPrefix) {
		return column{name: name, kind: kindSensor, sensorID: name[len(SensorColumnPrefix):]}
	}
	return column{name: name, kind: kindUnknown}
}

// Len returns the number of columns, which is the feature vector width.
func (s *Schema) Len() int {
	return len(s.columns)
}

// Columns returns a copy of the column names in training order.
func (s *Schema) Columns() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.name
	}
	return names
}

// SensorIDs returns the sensor ids that have their own one-hot column.
func (s *Schema) SensorIDs() []string {
	ids := make([]string, len(s.sensors))
	copy(ids, s.sensors)
	return ids
}

// Knows reports whether sensorID has a one-hot column. Unknown ids are encoded as
// the reference category.
func (s *Schema) Knows(sensorID string) bool {
	for _, id := range s.sensors {
		if id == sensorID {
			return true
		}
	}
	return false
}
