package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation               = errors.New("validation error")
	ErrNotFound                 = errors.New("not found")
	ErrEntitlementExhausted     = errors.New("entitlement exhausted")
	ErrNoEntitlement            = errors.New("no entitlement")
	ErrInvalidTransition        = errors.New("invalid transition")
	ErrAcceptanceExpired        = errors.New("acceptance deadline passed")
	ErrConcurrentAssignmentLost = errors.New("booking was assigned to another provider")
	ErrNotAssignedProvider      = errors.New("caller is not the assigned provider")
	ErrDiscrepancyDetected      = errors.New("reconciliation discrepancy detected")
	ErrBatchIneligible          = errors.New("batch contains payouts for bookings that are not completed")
	ErrBatchTotalMismatch       = errors.New("batch total does not match its payouts")
	ErrNoActiveRule             = errors.New("no active payout rule")
	ErrAlreadyRated             = errors.New("booking already rated")
	ErrNotBookingParty          = errors.New("actor is not a party to this booking")

	// ErrConcurrentModification is returned by storage when a conditional
	// write matched no row; callers re-read to classify the conflict.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// ValidationError describes malformed input rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError is returned when a state change is not legal from the
// currently stored state.
type TransitionError struct {
	Entity string
	ID     int64
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	entity := e.Entity
	if entity == "" {
		entity = "booking"
	}
	return fmt.Sprintf("invalid transition: %s %d is %s, cannot move to %s", entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
