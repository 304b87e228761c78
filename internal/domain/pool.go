/**
 * @description
 * This file defines the core domain models for trust pools: the pool itself,
 * its contribution cycles, and the memberships that hold a rotation slot.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo) to
 *   avoid floating-point inaccuracies with financial data.
 * - A membership's rotation slot is assigned at join and is immutable; slot
 *   indices within a pool form a permutation of 1..totalSlots.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pool frequency values.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Membership status values.
const (
	MembershipActive    = "active"
	MembershipInactive  = "inactive"
	MembershipSuspended = "suspended"
)

// Default states a membership moves through when it misses obligations.
const (
	DefaultStateNone     = "none"
	DefaultStateGrace    = "grace"
	DefaultStatePenalty  = "penalty"
	DefaultStateDrawdown = "collateral_drawdown"
)

// Pool represents a rotating savings pool ("ajo"). Members contribute
// BaseAmount every cycle and one member receives the pooled payout per cycle.
type Pool struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Currency        string    `json:"currency"`
	BaseAmount      int64     `json:"base_amount"` // in kobo
	Frequency       string    `json:"frequency"`
	CollateralRatio float64   `json:"collateral_ratio"` // fraction of base amount, 0..1
	MinLockCycles   int       `json:"min_lock_cycles"`
	GracePeriodDays int       `json:"grace_period_days"`
	TotalSlots      int       `json:"total_slots"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PoolCycle is one contribution period of a pool. Cycle numbers are unique
// and strictly increasing per pool; due dates are non-decreasing with the
// cycle number.
type PoolCycle struct {
	ID          uuid.UUID `json:"id"`
	PoolID      uuid.UUID `json:"pool_id"`
	CycleNumber int       `json:"cycle_number"`
	DueDate     time.Time `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership ties a user to a pool and fixes their rotation slot.
type Membership struct {
	ID                uuid.UUID `json:"id"`
	PoolID            uuid.UUID `json:"pool_id"`
	UserID            uuid.UUID `json:"user_id"`
	Status            string    `json:"status"`
	RotationSlot      int       `json:"rotation_slot"` // 1..totalSlots, immutable
	TrustScore        int       `json:"trust_score"`
	DefaultState      string    `json:"default_state"`
	ConsecutiveMissed int       `json:"consecutive_missed"`
	JoinedAt          time.Time `json:"joined_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// BeneficiarySlotForCycle returns the rotation slot paid out for a cycle
// number: slot ((n-1) mod totalSlots) + 1.
func BeneficiarySlotForCycle(cycleNumber, totalSlots int) int {
	if totalSlots <= 0 {
		return 0
	}
	return ((cycleNumber - 1) % totalSlots) + 1
}
