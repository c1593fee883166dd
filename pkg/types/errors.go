package types

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceExhausted is returned when a slot, queue or lock cannot be created
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrTimeout is returned when a bounded-wait lock was not acquired
	ErrTimeout = errors.New("lock timeout")
	// ErrValidation marks malformed or out-of-range external input
	ErrValidation = errors.New("validation failed")
	// ErrHardwareFault marks a stalled rotor, disconnected sensor or failed output
	ErrHardwareFault = errors.New("hardware fault")
	// ErrWrongMode is returned when a mutator does not apply to the current mode
	ErrWrongMode = errors.New("operation not allowed in current mode")
	// ErrStoreUnavailable is returned when the settings store is not open
	ErrStoreUnavailable = errors.New("settings store unavailable")
)

// ValidationError names the field that rejected an operation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
