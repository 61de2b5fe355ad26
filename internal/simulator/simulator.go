package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/smukkama/leak-server/internal/protocol"
)

// Simulator posts one reading per sensor to the prediction API every interval
type Simulator struct {
	targetURL  string
	interval   time.Duration
	fleet      *Fleet
	gen        *Generator
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// TickResult summarizes one round over the fleet
type TickResult struct {
	Sent      int
	Failed    int
	Simulated int // readings generated in the leak ranges
	Predicted int // readings the API classified as leaks
}

func New(targetURL string, interval time.Duration, fleet *Fleet, gen *Generator, logger *slog.Logger) *Simulator {
	return &Simulator{
		targetURL:  targetURL,
		interval:   interval,
		fleet:      fleet,
		gen:        gen,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// Run ticks immediately and then every interval until ctx is cancelled
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		res := s.Tick(ctx)
		s.logger.Info("simulation round",
			slog.Int("sent", res.Sent),
			slog.Int("failed", res.Failed),
			slog.Int("simulated_leaks", res.Simulated),
			slog.Int("predicted_leaks", res.Predicted),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick sends one reading for every sensor in the fleet
func (s *Simulator) Tick(ctx context.Context) TickResult {
	var res TickResult
	ts := s.now()

	for _, sensor := range s.fleet.Sensors {
		req, leak := s.gen.Reading(sensor, ts)
		if leak {
			res.Simulated++
		}

		resp, err := s.post(ctx, &req)
		if err != nil {
			res.Failed++
			s.logger.Warn("failed to post reading", slog.String("sensor_id", sensor.ID), slog.String("error", err.Error()))
			continue
		}
		res.Sent++
		if resp.ThresholdExceeded {
			res.Predicted++
		}

		s.logger.Debug("reading posted",
			slog.String("sensor_id", sensor.ID),
			slog.Bool("simulated_leak", leak),
			slog.Float64("pressure", *req.Pressure),
			slog.Float64("flow", *req.Flow),
			slog.Float64("leak_probability", resp.LeakProbability),
		)
	}

	return res
}

func (s *Simulator) post(ctx context.Context, reading *protocol.PredictionRequest) (*protocol.PredictionResponse, error) {
	body, err := json.Marshal(reading)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr protocol.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("status %d: %s: %s", resp.StatusCode, apiErr.Error, apiErr.Detail)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out protocol.PredictionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
