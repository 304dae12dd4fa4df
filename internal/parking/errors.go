package parking

import (
	"errors"
	"fmt"
)

// Error taxonomy of the parking core. Every error returned by Engine and
// Reconciler matches exactly one of these through errors.Is, or is an
// unexpected storage failure.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrCapacityConflict  = errors.New("capacity conflict")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation error")
)

// CapacityConflictError reports a shrink that could not find enough AVAILABLE slots.
type CapacityConflictError struct {
	LotID     string
	Required  int
	Available int
}

func (e *CapacityConflictError) Error() string {
	return fmt.Sprintf("cannot reduce capacity of lot %s: need to remove %d AVAILABLE slots but only %d available",
		e.LotID, e.Required, e.Available)
}

// Is makes CapacityConflictError match ErrCapacityConflict.
func (e *CapacityConflictError) Is(target error) bool {
	return target == ErrCapacityConflict
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
