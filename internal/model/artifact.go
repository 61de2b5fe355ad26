package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/smukkama/leak-server/internal/feature"
)

// ArtifactFormatVersion is the only artifact layout this server understands.
const ArtifactFormatVersion = 1

const ModelTypeLogistic = "logistic_regression"

// Metrics are the evaluation figures recorded by the training run.
type Metrics struct {
	Accuracy        float64   `json:"accuracy"`
	Precision       float64   `json:"precision"`
	Recall          float64   `json:"recall"`
	F1Score         float64   `json:"f1_score"`
	ConfusionMatrix [][]int   `json:"confusion_matrix"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Artifact is a trained model together with the schema it was trained on.
// Threshold records the cutoff used during evaluation; serving always uses
// LEAK_THRESHOLD.
type Artifact struct {
	FormatVersion int       `json:"format_version"`
	ModelID       string    `json:"model_id"`
	ModelType     string    `json:"model_type"`
	Schema        []string  `json:"schema"`
	Coefficients  []float64 `json:"coefficients"`
	Intercept     float64   `json:"intercept"`
	Threshold     *float64  `json:"threshold,omitempty"`
	Metrics       *Metrics  `json:"metrics,omitempty"`
	TrainedAt     time.Time `json:"trained_at"`
}

// Validate checks the artifact invariants and returns its parsed schema.
func (a *Artifact) Validate() (*feature.Schema, error) {
	if a.FormatVersion != ArtifactFormatVersion {
		return nil, fmt.Errorf("unsupported artifact format_version %d (want %d)", a.FormatVersion, ArtifactFormatVersion)
	}
	if a.ModelID == "" {
		return nil, fmt.Errorf("artifact has no model_id")
	}
	if a.ModelType != ModelTypeLogistic {
		return nil, fmt.Errorf("unsupported model_type %q", a.ModelType)
	}
	schema, err := feature.NewSchema(a.Schema)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact schema: %w", err)
	}
	if a.Threshold != nil && (*a.Threshold <= 0 || *a.Threshold >= 1) {
		return nil, fmt.Errorf("artifact threshold must be in (0, 1), got %v", *a.Threshold)
	}
	if len(a.Coefficients) != schema.Len() {
		return nil, fmt.Errorf("artifact has %d coefficients for %d schema columns", len(a.Coefficients), schema.Len())
	}
	return schema, nil
}

// DecodeArtifact reads and validates a JSON artifact.
func DecodeArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if _, err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// LoadArtifact reads an artifact from disk. A missing file is reported as
// feature.ModelUnavailableError.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &feature.ModelUnavailableError{Reason: fmt.Sprintf("artifact %s not found", path)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	return DecodeArtifact(f)
}

// EncodeArtifact writes a in the on-disk format.
func EncodeArtifact(w io.Writer, a *Artifact) error {
	if _, err := a.Validate(); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}
