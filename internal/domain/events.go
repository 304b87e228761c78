/**
 * @description
 * Outbound event payloads published to RabbitMQ for the notification and
 * reporting systems. The engine emits an event for every state change it
 * owns; delivery semantics past the broker are a collaborator's concern.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the pool events exchange.
const (
	EventPoolActivated      = "pool.activated"
	EventObligationSettled  = "pool.obligation.settled"
	EventMemberStateChanged = "pool.member.state_changed"
	EventRunGenerated       = "pool.payout.run_generated"
	EventPayoutPaid         = "pool.payout.paid"
	EventPayoutFailed       = "pool.payout.failed"
	EventPayoutDeferred     = "pool.payout.deferred"
	EventPayoutRequeued     = "pool.payout.requeued"
	EventCollateralDrawdown = "pool.collateral.drawdown"
	EventCollateralDeficit  = "pool.collateral.deficit"
	EventCollateralUnlocked = "pool.collateral.unlocked"
)

// PoolActivatedEvent is published when a pool's roster is complete and the
// pool starts rotating.
type PoolActivatedEvent struct {
	PoolID      uuid.UUID `json:"pool_id"`
	TotalSlots  int       `json:"total_slots"`
	ActivatedAt time.Time `json:"activated_at"`
}

// ObligationSettledEvent is published when an obligation settles, by payment
// or by drawdown.
type ObligationSettledEvent struct {
	ObligationID uuid.UUID `json:"obligation_id"`
	PoolID       uuid.UUID `json:"pool_id"`
	UserID       uuid.UUID `json:"user_id"`
	Via          string    `json:"via"`
	SettledAt    time.Time `json:"settled_at"`
}

// MemberStateChangedEvent is published on every default-state transition.
type MemberStateChangedEvent struct {
	MembershipID uuid.UUID `json:"membership_id"`
	PoolID       uuid.UUID `json:"pool_id"`
	UserID       uuid.UUID `json:"user_id"`
	FromState    string    `json:"from_state"`
	ToState      string    `json:"to_state"`
	ChangedAt    time.Time `json:"changed_at"`
}

// PayoutEvent is published on run generation and on every instruction
// transition.
type PayoutEvent struct {
	RunID         uuid.UUID `json:"run_id"`
	InstructionID uuid.UUID `json:"instruction_id"`
	PoolID        uuid.UUID `json:"pool_id"`
	CycleID       uuid.UUID `json:"cycle_id"`
	BeneficiaryID uuid.UUID `json:"beneficiary_user_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// CollateralEvent is published on drawdowns, deficits and unlocks.
type CollateralEvent struct {
	PoolID       uuid.UUID `json:"pool_id"`
	UserID       uuid.UUID `json:"user_id"`
	ObligationID uuid.UUID `json:"obligation_id,omitempty"`
	Amount       int64     `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
}
