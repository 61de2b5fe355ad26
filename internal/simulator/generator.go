package simulator

import (
	"math/rand"
	"time"

	"github.com/smukkama/leak-server/internal/protocol"
)

// Reading ranges. A leaking pipe shows low pressure and low flow.
var (
	leakPressure   = [2]float64{40, 55}
	leakFlow       = [2]float64{70, 95}
	normalPressure = [2]float64{60, 75}
	normalFlow     = [2]float64{110, 140}
	temperature    = [2]float64{18, 26}
)

// Generator produces sensor readings. It is not safe for concurrent use.
type Generator struct {
	rng      *rand.Rand
	leakRate float64
}

// NewGenerator creates a generator. A zero seed seeds from the clock.
func NewGenerator(seed int64, leakRate float64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed)), leakRate: leakRate}
}

// Reading returns a request for sensor at ts and whether it simulates a leak
func (g *Generator) Reading(sensor Sensor, ts time.Time) (protocol.PredictionRequest, bool) {
	leak := g.rng.Float64() < g.leakRate

	pressure, flow := normalPressure, normalFlow
	if leak {
		pressure, flow = leakPressure, leakFlow
	}

	p := g.uniform(pressure)
	f := g.uniform(flow)
	t := g.uniform(temperature)
	lat, lng := sensor.Lat, sensor.Lng

	return protocol.PredictionRequest{
		Timestamp:   ts.UTC().Format(time.RFC3339),
		SensorID:    sensor.ID,
		Pressure:    &p,
		Flow:        &f,
		Temperature: &t,
		Lat:         &lat,
		Lng:         &lng,
	}, leak
}

func (g *Generator) uniform(r [2]float64) float64 {
	return r[0] + g.rng.Float64()*(r[1]-r[0])
}
