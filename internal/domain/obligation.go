/**
 * @description
 * Domain models for the obligation ledger and collateral accounting: the
 * per-cycle dues a member owes, the locked/available collateral balances
 * backing those dues, and the records produced when a drawdown cannot cover
 * what is owed.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// How an obligation was settled.
const (
	SettlementPayment  = "payment"
	SettlementDrawdown = "drawdown"
)

// Obligation is one member's dues for one cycle. Immutable once settled
// except for the settled flag and timestamp (append-only settlement).
type Obligation struct {
	ID              uuid.UUID  `json:"id"`
	PoolID          uuid.UUID  `json:"pool_id"`
	UserID          uuid.UUID  `json:"user_id"`
	CycleID         uuid.UUID  `json:"cycle_id"`
	ContributionDue int64      `json:"contribution_due"` // in kobo
	CollateralDue   int64      `json:"collateral_due"`   // in kobo
	Settled         bool       `json:"settled"`
	SettledVia      *string    `json:"settled_via,omitempty"` // payment | drawdown
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CollateralAccount tracks locked vs. available collateral for one member in
// one pool. The sum only increases via settled obligations' collateral_due
// and only decreases via drawdown or withdrawal.
type CollateralAccount struct {
	ID              uuid.UUID `json:"id"`
	PoolID          uuid.UUID `json:"pool_id"`
	UserID          uuid.UUID `json:"user_id"`
	LockedAmount    int64     `json:"locked_amount"`    // in kobo, >= 0
	AvailableAmount int64     `json:"available_amount"` // in kobo, >= 0
	LastUnlockCycle int       `json:"last_unlock_cycle"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CollateralDeficit records the shortfall when a drawdown could not cover
// the outstanding contribution. The member owes the pool this amount; the
// recovery policy is an external concern, the engine only surfaces it.
type CollateralDeficit struct {
	ID           uuid.UUID `json:"id"`
	PoolID       uuid.UUID `json:"pool_id"`
	UserID       uuid.UUID `json:"user_id"`
	ObligationID uuid.UUID `json:"obligation_id"`
	Amount       int64     `json:"amount"` // in kobo
	Resolved     bool      `json:"resolved"`
	CreatedAt    time.Time `json:"created_at"`
}

// Penalty is the audit record written when a membership moves grace->penalty.
type Penalty struct {
	ID           uuid.UUID `json:"id"`
	PoolID       uuid.UUID `json:"pool_id"`
	MembershipID uuid.UUID `json:"membership_id"`
	CycleID      uuid.UUID `json:"cycle_id"`
	Amount       int64     `json:"amount"` // in kobo
	AssessedAt   time.Time `json:"assessed_at"`
}

// CreditEvent is the payload delivered by the upstream ingestion service
// when a contribution or collateral top-up has been credited to a pool.
type CreditEvent struct {
	PoolID       uuid.UUID `json:"pool_id"`
	UserID       uuid.UUID `json:"user_id"`
	ObligationID uuid.UUID `json:"obligation_id"`
	Amount       int64     `json:"amount"`
	Kind         string    `json:"kind"` // contribution | collateral
	CreditedAt   time.Time `json:"credited_at"`
	Reference    string    `json:"reference"`
}
