package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/smukkama/leak-server/internal/feature"
)

// RemoteClient calls an online prediction endpoint that speaks the
// {"instances": [...]} / {"predictions": [...]} convention.
type RemoteClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.RWMutex
	deployed string
}

type predictRequest struct {
	Instances []feature.Vector `json:"instances"`
}

type predictResponse struct {
	Predictions     []json.RawMessage `json:"predictions"`
	DeployedModelID string            `json:"deployed_model_id"`
}

// NewRemoteClient creates a client for the endpoint. A zero timeout means the
// caller's context is the only bound.
func NewRemoteClient(endpoint string, timeout time.Duration, logger *slog.Logger) *RemoteClient {
	return &RemoteClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ModelID returns the deployed model id reported by the last successful call.
func (c *RemoteClient) ModelID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deployed == "" {
		return "remote"
	}
	return c.deployed
}

func (c *RemoteClient) Predict(ctx context.Context, vec feature.Vector) (float64, error) {
	out, err := c.PredictBatch(ctx, []feature.Vector{vec})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (c *RemoteClient) PredictBatch(ctx context.Context, vecs []feature.Vector) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: vecs})
	if err != nil {
		return nil, c.fail(fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, c.fail(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload)))
	}

	var decoded predictResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, c.fail(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(decoded.Predictions) != len(vecs) {
		return nil, c.fail(fmt.Errorf("endpoint returned %d predictions for %d instances", len(decoded.Predictions), len(vecs)))
	}

	out := make([]float64, len(vecs))
	for i, raw := range decoded.Predictions {
		p, err := parseProbability(raw)
		if err != nil {
			return nil, c.fail(fmt.Errorf("prediction %d: %w", i, err))
		}
		out[i] = p
	}

	if decoded.DeployedModelID != "" {
		c.mu.Lock()
		c.deployed = decoded.DeployedModelID
		c.mu.Unlock()
	}

	c.logger.Debug("remote prediction completed",
		slog.Int("instances", len(vecs)),
		slog.Duration("latency", time.Since(start)),
	)
	return out, nil
}

func (c *RemoteClient) fail(err error) error {
	return &feature.InferenceError{Backend: "remote", Err: err}
}

// parseProbability accepts [p0, p1] class scores, a bare number, or an object
// carrying leak_probability.
func parseProbability(raw json.RawMessage) (float64, error) {
	var scores []float64
	if err := json.Unmarshal(raw, &scores); err == nil {
		switch len(scores) {
		case 0:
			return 0, fmt.Errorf("empty class scores")
		case 1:
			return scores[0], nil
		default:
			return scores[1], nil
		}
	}

	var p float64
	if err := json.Unmarshal(raw, &p); err == nil {
		return p, nil
	}

	var obj struct {
		LeakProbability *float64 `json:"leak_probability"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.LeakProbability != nil {
		return *obj.LeakProbability, nil
	}

	return 0, fmt.Errorf("unrecognized prediction %s", raw)
}
