package model

import (
	"context"
	"fmt"
	"math"

	"github.com/smukkama/leak-server/internal/feature"
)

// LogisticModel scores vectors in process with the coefficients of an artifact.
type LogisticModel struct {
	id           string
	coefficients []float64
	intercept    float64
}

// NewLogisticModel builds a model from a validated artifact.
func NewLogisticModel(a *Artifact) (*LogisticModel, error) {
	if _, err := a.Validate(); err != nil {
		return nil, err
	}
	coef := make([]float64, len(a.Coefficients))
	copy(coef, a.Coefficients)
	return &LogisticModel{id: a.ModelID, coefficients: coef, intercept: a.Intercept}, nil
}

func (m *LogisticModel) ModelID() string {
	return m.id
}

func (m *LogisticModel) Predict(_ context.Context, vec feature.Vector) (float64, error) {
	if len(vec) != len(m.coefficients) {
		return 0, &feature.InferenceError{
			Backend: "local",
			Err:     fmt.Errorf("vector has %d features, model expects %d", len(vec), len(m.coefficients)),
		}
	}

	z := m.intercept
	for i, x := range vec {
		z += m.coefficients[i] * x
	}
	return sigmoid(z), nil
}

func (m *LogisticModel) PredictBatch(ctx context.Context, vecs []feature.Vector) ([]float64, error) {
	out := make([]float64, len(vecs))
	for i, vec := range vecs {
		p, err := m.Predict(ctx, vec)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	// Split on sign so exp never overflows.
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
