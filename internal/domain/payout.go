/**
 * @description
 * Domain models for payout runs and payout instructions. A run materializes
 * exactly once per (pool, cycle) and carries exactly one instruction for the
 * cycle's beneficiary; the instruction then moves through its own lifecycle.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payout instruction statuses. `paid` and `failed` are terminal; `deferred`
// may be re-queued to `scheduled` by an explicit admin action.
const (
	InstructionScheduled = "scheduled"
	InstructionPaid      = "paid"
	InstructionFailed    = "failed"
	InstructionDeferred  = "deferred"
)

// PayoutRun is the idempotency boundary for payouts: at most one run exists
// per (pool_id, cycle_id).
type PayoutRun struct {
	ID        uuid.UUID `json:"id"`
	PoolID    uuid.UUID `json:"pool_id"`
	CycleID   uuid.UUID `json:"cycle_id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// PayoutInstruction is one scheduled payout to a beneficiary.
type PayoutInstruction struct {
	ID               uuid.UUID  `json:"id"`
	RunID            uuid.UUID  `json:"run_id"`
	PoolID           uuid.UUID  `json:"pool_id"`
	CycleID          uuid.UUID  `json:"cycle_id"`
	BeneficiaryID    uuid.UUID  `json:"beneficiary_user_id"`
	RotationPosition int        `json:"rotation_position"`
	Amount           int64      `json:"amount"` // in kobo
	Status           string     `json:"status"`
	ProviderRef      *string    `json:"provider_reference,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	DeferReason      *string    `json:"defer_reason,omitempty"`
	DeferredUntil    *time.Time `json:"deferred_until,omitempty"`
	ApprovedBy       *string    `json:"approved_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// GenerateRunResult reports a run generation outcome. AlreadyExisted is true
// when the call was a replay and the prior run id was returned unchanged.
type GenerateRunResult struct {
	RunID          uuid.UUID `json:"run_id"`
	InstructionID  uuid.UUID `json:"instruction_id"`
	AlreadyExisted bool      `json:"already_existed"`
}
