package model

import (
	"context"

	"github.com/smukkama/leak-server/internal/feature"
)

// Classifier returns the leak probability (class 1) for an aligned feature vector.
type Classifier interface {
	Predict(ctx context.Context, vec feature.Vector) (float64, error)
	ModelID() string
}

// BatchClassifier is implemented by backends that can score many vectors in one call.
type BatchClassifier interface {
	Classifier
	PredictBatch(ctx context.Context, vecs []feature.Vector) ([]float64, error)
}
