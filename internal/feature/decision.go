package feature

import (
	"fmt"
	"math"
)

// DefaultThreshold is the leak cutoff used by the known deployment.
const DefaultThreshold = 0.7

// Result is the thresholded decision derived from a leak probability.
type Result struct {
	LeakProbability   float64 `json:"leak_probability"`
	Prediction        int     `json:"prediction"`
	Confidence        float64 `json:"confidence"`
	ThresholdExceeded bool    `json:"threshold_exceeded"`
}

// Decide turns a probability into a decision. The comparison is strict: a
// probability equal to the threshold is not a leak.
func Decide(probability, threshold float64) Result {
	exceeded := probability > threshold
	prediction := 0
	if exceeded {
		prediction = 1
	}
	return Result{
		LeakProbability:   probability,
		Prediction:        prediction,
		Confidence:        math.Max(probability, 1-probability),
		ThresholdExceeded: exceeded,
	}
}

// CheckProbability rejects model outputs outside [0, 1].
func CheckProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return &InferenceError{Err: fmt.Errorf("probability %v outside [0, 1]", p)}
	}
	return nil
}
