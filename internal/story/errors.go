package story

import (
	"errors"
	"fmt"

	"storyteller/internal/models"
)

// Stage names a step of the pipeline.
type Stage string

const (
	StageCaption Stage = "caption"
	StageNarrate Stage = "narrate"
	StageSpeech  Stage = "speech"
)

// ErrEmptyAudio is returned when the speech capability produces no payload.
var ErrEmptyAudio = errors.New("speech capability returned no audio")

// InitializationError reports that a capability could not be loaded. The
// next request that needs the capability retries the load.
type InitializationError struct {
	Kind models.Kind
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %s capability: %v", e.Kind, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// InferenceError reports that a loaded capability failed or returned an unusable result.
type InferenceError struct {
	Stage Stage
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ValidationError reports missing or empty caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PipelineError is what callers of the Coordinator see for any stage failure.
// Its message names only the stage; the cause is kept for logging via Unwrap.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed", e.Stage)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IsValidation reports whether err is caused by caller input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
