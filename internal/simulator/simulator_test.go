package simulator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/leak-server/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFleet(t *testing.T) {
	fleet, err := ParseFleet([]byte(`
sensors:
  - id: S010
    lat: 41.0
    lng: -74.0
  - id: S011
`))
	require.NoError(t, err)

	require.Len(t, fleet.Sensors, 2)
	assert.Equal(t, Sensor{ID: "S010", Lat: 41.0, Lng: -74.0}, fleet.Sensors[0])
	assert.Equal(t, "S011", fleet.Sensors[1].ID)
}

func TestParseFleet_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":     `sensors: []`,
		"no id":     "sensors:\n  - lat: 1\n",
		"duplicate": "sensors:\n  - id: S1\n  - id: S1\n",
		"not yaml":  "sensors: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFleet([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFleet_Default(t *testing.T) {
	fleet, err := LoadFleet("")
	require.NoError(t, err)
	assert.Len(t, fleet.Sensors, 8)
}

func TestLoadFleet_File(t *testing.T) {
	fleet, err := LoadFleet("../../configs/fleet.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultFleet(), fleet)
}

func TestGenerator_Ranges(t *testing.T) {
	gen := NewGenerator(42, 0.2)
	ts := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)

	leaks := 0
	const n = 2000
	for i := 0; i < n; i++ {
		req, leak := gen.Reading(Sensor{ID: "S001"}, ts)
		require.NoError(t, req.Validate())
		assert.Equal(t, "2024-01-01T14:00:00Z", req.Timestamp)

		if leak {
			leaks++
			assert.True(t, *req.Pressure >= 40 && *req.Pressure <= 55, "leak pressure %v", *req.Pressure)
			assert.True(t, *req.Flow >= 70 && *req.Flow <= 95, "leak flow %v", *req.Flow)
		} else {
			assert.True(t, *req.Pressure >= 60 && *req.Pressure <= 75, "normal pressure %v", *req.Pressure)
			assert.True(t, *req.Flow >= 110 && *req.Flow <= 140, "normal flow %v", *req.Flow)
		}
		assert.True(t, *req.Temperature >= 18 && *req.Temperature <= 26)
	}

	assert.InDelta(t, 0.2, float64(leaks)/n, 0.05)
}

func TestGenerator_CarriesCoordinates(t *testing.T) {
	gen := NewGenerator(3, 0.2)

	req, _ := gen.Reading(Sensor{ID: "S003", Lat: 40.7571, Lng: -73.9876}, time.Now())

	require.NotNil(t, req.Lat)
	require.NotNil(t, req.Lng)
	assert.Equal(t, 40.7571, *req.Lat)
	assert.Equal(t, -73.9876, *req.Lng)
	assert.NoError(t, req.Validate())
}

func TestGenerator_Seeded(t *testing.T) {
	a, b := NewGenerator(7, 0.2), NewGenerator(7, 0.2)
	ts := time.Now()

	for i := 0; i < 10; i++ {
		ra, la := a.Reading(Sensor{ID: "S001"}, ts)
		rb, lb := b.Reading(Sensor{ID: "S001"}, ts)
		assert.Equal(t, la, lb)
		assert.Equal(t, *ra.Pressure, *rb.Pressure)
	}
}

func TestSimulator_Tick(t *testing.T) {
	var mu sync.Mutex
	var got []protocol.PredictionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.PredictionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		mu.Lock()
		got = append(got, req)
		mu.Unlock()

		if req.SensorID == "S002" {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "model_unavailable", Detail: "no model"})
			return
		}
		json.NewEncoder(w).Encode(protocol.PredictionResponse{LeakProbability: 0.9, Prediction: 1, ThresholdExceeded: true})
	}))
	defer srv.Close()

	fleet := &Fleet{Sensors: []Sensor{{ID: "S001", Lat: 40.758, Lng: -73.9855}, {ID: "S002"}, {ID: "S003"}}}
	sim := New(srv.URL, time.Second, fleet, NewGenerator(1, 0.2), discardLogger())

	res := sim.Tick(context.Background())

	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Predicted)
	require.Len(t, got, 3)
	for _, req := range got {
		if req.SensorID == "S001" {
			require.NotNil(t, req.Lat)
			assert.Equal(t, 40.758, *req.Lat)
		}
	}
}

func TestSimulator_RunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.PredictionResponse{})
	}))
	defer srv.Close()

	sim := New(srv.URL, 10*time.Millisecond, DefaultFleet(), NewGenerator(1, 0.2), discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sim.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
