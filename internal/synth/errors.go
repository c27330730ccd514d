package synth

import (
	"errors"
	"fmt"
)

// Failure taxonomy for one synthesis session. Validation errors are caught
// before generation starts; ErrDecodeFailure can only surface mid-stream.
var (
	ErrInvalidVoice     = errors.New("invalid voice")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrDecodeFailure    = errors.New("decode failure")
	ErrServerBusy       = errors.New("server busy")
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Err     error
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalidVoice(voice string) error {
	return &ValidationError{
		Err:     ErrInvalidVoice,
		Field:   "voice",
		Message: fmt.Sprintf("voice %q not available, use /v1/voices to list voices", voice),
	}
}

func invalidParameter(field, message string) error {
	return &ValidationError{Err: ErrInvalidParameter, Field: field, Message: message}
}
