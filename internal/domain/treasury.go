/**
 * @description
 * Domain models for the treasury policy guard: the per-pool policy document
 * (kill-switches, ceilings, reserve fractions) and the derived liquidity
 * position used to compute draw capacity.
 *
 * @notes
 * - The policy is mutated only through an external maker-checker workflow;
 *   this engine reads the latest approved value.
 * - LiquidityPosition is recomputed on demand and never stored as ground
 *   truth.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operations gated by the treasury policy guard.
const (
	OperationDraw    = "draw"
	OperationUnlock  = "unlock"
	OperationPayment = "payment"
)

// TreasuryPolicy is the latest approved policy for a pool.
type TreasuryPolicy struct {
	ID                uuid.UUID `json:"id"`
	PoolID            uuid.UUID `json:"pool_id"`
	KillDraws         bool      `json:"kill_draws"`
	KillUnlocks       bool      `json:"kill_unlocks"`
	KillPayments      bool      `json:"kill_payments"`
	UserDailyCeiling  int64     `json:"user_daily_ceiling"` // in kobo
	OrgDailyCeiling   int64     `json:"org_daily_ceiling"`  // in kobo
	MaxDrawFraction   float64   `json:"max_draw_fraction"`
	MinReserveFrac    float64   `json:"min_reserve_fraction"`
	VolatilityBuffer  float64   `json:"volatility_buffer_fraction"`
	ApprovedBy        string    `json:"approved_by"`
	ApprovedAt        time.Time `json:"approved_at"`
}

// LiquidityPosition is the derived view the guard computes capacity from.
type LiquidityPosition struct {
	PoolID           uuid.UUID `json:"pool_id"`
	TotalLocked      int64     `json:"total_locked"` // in kobo
	VolatilityBuffer float64   `json:"volatility_buffer_fraction"`
	MinReserveFrac   float64   `json:"min_reserve_fraction"`
	Next14DaysDue    int64     `json:"next_14d_due"`  // in kobo
	PendingDraws     int64     `json:"pending_draws"` // in kobo
	ComputedAt       time.Time `json:"computed_at"`
}

// AuthorizationDecision is the explicit outcome of a guard check. Reason is
// a human-readable explanation an operator can act on; it is empty when the
// operation is allowed.
type AuthorizationDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
