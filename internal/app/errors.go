/**
 * @description
 * Typed outcomes for the engine's error taxonomy: validation failures,
 * state-precondition conflicts and treasury policy rejections. Every
 * mutating operation returns one of these or a definitive success; nothing
 * is retried internally except the explicitly idempotent paths.
 */

package app

import (
	"errors"
	"fmt"
)

// ValidationError rejects bad input synchronously; nothing is partially
// applied.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// ConflictError reports a violated state precondition, surfacing the state
// actually found so the caller can see why the transition was refused.
type ConflictError struct {
	Entity       string
	CurrentState string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s is in state %q", e.Entity, e.CurrentState)
}

// PolicyRejection is returned when the treasury policy guard refuses an
// operation. Reason is human-readable and meant for an operator; the
// operation is never silently downgraded.
type PolicyRejection struct {
	Operation string
	Reason    string
}

func (e *PolicyRejection) Error() string {
	return fmt.Sprintf("policy rejected %s: %s", e.Operation, e.Reason)
}

// ErrPoolInactive rejects operations against a pool that is not active.
var ErrPoolInactive = errors.New("pool is not active")

// IsConflict reports whether err is a state-precondition conflict.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsPolicyRejection reports whether err is a treasury policy rejection.
func IsPolicyRejection(err error) bool {
	var p *PolicyRejection
	return errors.As(err, &p)
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
