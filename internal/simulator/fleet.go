package simulator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sensor is one simulated pipe sensor
type Sensor struct {
	ID  string  `yaml:"id"`
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

// Fleet is the set of sensors the simulator drives
type Fleet struct {
	Sensors []Sensor `yaml:"sensors"`
}

// DefaultFleet is eight sensors around midtown Manhattan
func DefaultFleet() *Fleet {
	return &Fleet{Sensors: []Sensor{
		{ID: "S001", Lat: 40.7580, Lng: -73.9855},
		{ID: "S002", Lat: 40.7589, Lng: -73.9851},
		{ID: "S003", Lat: 40.7571, Lng: -73.9876},
		{ID: "S004", Lat: 40.7595, Lng: -73.9842},
		{ID: "S005", Lat: 40.7565, Lng: -73.9868},
		{ID: "S006", Lat: 40.7602, Lng: -73.9838},
		{ID: "S007", Lat: 40.7558, Lng: -73.9882},
		{ID: "S008", Lat: 40.7612, Lng: -73.9825},
	}}
}

// LoadFleet reads a fleet file. An empty path yields DefaultFleet.
func LoadFleet(path string) (*Fleet, error) {
	if path == "" {
		return DefaultFleet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	return ParseFleet(data)
}

// ParseFleet decodes and validates a YAML fleet definition
func ParseFleet(data []byte) (*Fleet, error) {
	var fleet Fleet
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("failed to parse fleet: %w", err)
	}
	if err := fleet.Validate(); err != nil {
		return nil, err
	}
	return &fleet, nil
}

func (f *Fleet) Validate() error {
	if len(f.Sensors) == 0 {
		return fmt.Errorf("fleet has no sensors")
	}
	seen := make(map[string]bool, len(f.Sensors))
	for i, s := range f.Sensors {
		if s.ID == "" {
			return fmt.Errorf("sensor %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate sensor id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
