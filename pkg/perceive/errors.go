package perceive

import "fmt"

// ModelLoadError means a model asset is missing, corrupt, shape-mismatched,
// or timed out while loading. It is fatal to that model's availability
// until an explicit reload.
type ModelLoadError struct {
	Model  string
	Reason string
	Err    error
}

func (e *ModelLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model %v failed to load: %v: %v", e.Model, e.Reason, e.Err)
	}
	return fmt.Sprintf("model %v failed to load: %v", e.Model, e.Reason)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// InferenceError means a single scoring call failed. It is recovered
// locally: the model contributes nothing for that frame, and enough
// consecutive failures cause the owning port to be torn down and reloaded.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed on model %v: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
