package tensor

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrInvalidShape  = errors.New("invalid shape")
)

// ShapeError provides details about a violated shape contract.
type ShapeError struct {
	Op      string // Operation that rejected its arguments (e.g. "fully connected forward")
	Details string // Human readable description of the violation
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, ErrShapeMismatch, e.Details)
}

// Unwrap makes errors.Is(err, ErrShapeMismatch) work.
func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}

// Mismatch builds a ShapeError describing two tensors that were expected to match.
func Mismatch(op string, got, want *Tensor) error {
	return mismatch(op, got, want)
}

// Mismatchf builds a ShapeError with a formatted description.
func Mismatchf(op, format string, args ...any) error {
	return &ShapeError{Op: op, Details: fmt.Sprintf(format, args...)}
}

func mismatch(op string, got, want *Tensor) error {
	return &ShapeError{
		Op:      op,
		Details: fmt.Sprintf("got [%d, %d], want [%d, %d]", got.entities, got.length, want.entities, want.length),
	}
}
