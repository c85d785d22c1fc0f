package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNothingToUndo     = errors.New("nothing to undo")
	ErrConflict          = errors.New("concurrent modification")
	ErrPartial           = errors.New("partial failure")
)

// ValidationError names the offending field. It matches ErrValidation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Msg
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, msg string) error { return &ValidationError{Field: field, Msg: msg} }

// InsufficientError is returned when a removal exceeds the current total.
type InsufficientError struct {
	Requested int64
	Available int64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient stock: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientError) Is(target error) bool { return target == ErrValidation }

// PartialError reports a mutation that was stored while its audit event was
// not. The mutation stands; only the event is missing.
type PartialError struct {
	Op  string
	Err error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s stored but event not persisted: %v", e.Op, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

func (e *PartialError) Is(target error) bool { return target == ErrPartial }
