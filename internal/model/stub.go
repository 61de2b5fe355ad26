package model

import (
	"context"
	"log/slog"

	"github.com/smukkama/leak-server/internal/feature"
)

const StubModelID = "local-stub"

// StubClient answers every request with a neutral probability. It is selected
// explicitly with MODEL_BACKEND=stub for local development.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

func (c *StubClient) ModelID() string {
	return StubModelID
}

func (c *StubClient) Predict(_ context.Context, vec feature.Vector) (float64, error) {
	c.logger.Debug("stub model prediction requested", slog.Int("feature_count", len(vec)))
	return 0.5, nil
}

func (c *StubClient) PredictBatch(ctx context.Context, vecs []feature.Vector) ([]float64, error) {
	out := make([]float64, len(vecs))
	for i := range vecs {
		out[i], _ = c.Predict(ctx, vecs[i])
	}
	return out, nil
}
