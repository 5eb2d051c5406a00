package models

import (
	"errors"
	"fmt"
)

// ErrAllTilesFailed is returned when every (tile, model) inference pair
// errored. It distinguishes "could not run at all" from the valid empty
// result of a run that executed but found nothing.
var ErrAllTilesFailed = errors.New("all tile/model inference attempts failed")

// TileGenerationError reports an invalid tiling configuration. It is
// fatal and aborts a run before any inference happens.
type TileGenerationError struct {
	Message string
}

func (e *TileGenerationError) Error() string {
	return fmt.Sprintf("tile generation: %s", e.Message)
}

// InferenceError reports a failed engine call for one (tile, model)
// pair. The pipeline recovers locally: the pair contributes zero
// candidates and the run continues.
type InferenceError struct {
	Message string
	Cause   error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InferenceError) Unwrap() error { return e.Cause }

// DecodeError reports an output tensor the decoder cannot interpret,
// such as an unsupported rank. Recovered the same way as InferenceError.
type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s", e.Message)
}
