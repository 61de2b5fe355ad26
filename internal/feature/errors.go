package feature

import "fmt"

// ValidationError reports a missing or out-of-range input field.
// It is a client fault: retrying the same input cannot succeed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ModelUnavailableError reports that no classifier artifact is loaded.
type ModelUnavailableError struct {
	Reason string
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model unavailable: %s", e.Reason)
}

// InferenceError wraps a failure of the underlying model call.
type InferenceError struct {
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("inference failed: %v", e.Err)
	}
	return fmt.Sprintf("%s inference failed: %v", e.Backend, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "field is required"}
}
