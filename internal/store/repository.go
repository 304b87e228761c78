/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the pool engine needs. Business logic in internal/app depends on
 * this interface rather than on PostgreSQL directly, which keeps the engine
 * testable with in-memory stubs.
 *
 * @notes
 * - Every method that backs an "atomic check-then-write" requirement is a
 *   single SQL statement or a single transaction in the implementation;
 *   callers never compose two repository calls and expect atomicity.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
)

var (
	ErrPoolNotFound        = errors.New("pool not found")
	ErrCycleNotFound       = errors.New("cycle not found")
	ErrMembershipNotFound  = errors.New("membership not found")
	ErrObligationNotFound  = errors.New("obligation not found")
	ErrAccountNotFound     = errors.New("collateral account not found")
	ErrInstructionNotFound = errors.New("payout instruction not found")
	ErrRunNotFound         = errors.New("payout run not found")
	ErrPolicyNotFound      = errors.New("treasury policy not found")
	ErrInsufficientLocked  = errors.New("insufficient locked collateral")
	ErrPoolActive          = errors.New("pool is already active")
	ErrSlotTaken           = errors.New("rotation slot already assigned")
)

// OverdueObligation pairs an unsettled obligation with its cycle due date.
type OverdueObligation struct {
	Obligation  domain.Obligation
	CycleNumber int
	DueDate     time.Time
}

// SettleOutcome reports what an atomic settlement did.
type SettleOutcome struct {
	AlreadySettled  bool
	CollateralDue   int64
	ContributionDue int64
}

// DrawdownOutcome reports what an atomic collateral drawdown did. Deficit is
// non-zero when locked collateral could not cover the outstanding amount.
type DrawdownOutcome struct {
	AlreadySettled bool
	Drawn          int64
	Deficit        int64
	DeficitID      *uuid.UUID
}

// InstructionTransitionParams carries the fields written alongside a payout
// instruction status transition. Nil fields are left untouched.
type InstructionTransitionParams struct {
	Status        string
	ProviderRef   *string
	FailureReason *string
	DeferReason   *string
	DeferredUntil *time.Time
	ApprovedBy    *string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Pool, cycle and membership reads
	GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error)
	GetCycle(ctx context.Context, cycleID uuid.UUID) (*domain.PoolCycle, error)
	FindCyclesDueBefore(ctx context.Context, asOf time.Time) ([]domain.PoolCycle, error)
	GetMembership(ctx context.Context, membershipID uuid.UUID) (*domain.Membership, error)
	FindActiveMemberships(ctx context.Context, poolID uuid.UUID) ([]domain.Membership, error)
	FindMembershipBySlot(ctx context.Context, poolID uuid.UUID, slot int) (*domain.Membership, error)
	FindMembershipByPoolUser(ctx context.Context, poolID, userID uuid.UUID) (*domain.Membership, error)

	// Pool and membership writes
	// ActivatePool flips the pool active only while it is still inactive and
	// every rotation slot is held by an active membership; returns false when
	// the conditional update matched no row.
	ActivatePool(ctx context.Context, poolID uuid.UUID) (bool, error)
	CreateMembership(ctx context.Context, m *domain.Membership) error
	// TransitionDefaultState flips default_state only when the current value
	// matches fromState; returns false when the precondition failed.
	TransitionDefaultState(ctx context.Context, membershipID uuid.UUID, fromState, toState string) (bool, error)
	IncrementConsecutiveMissed(ctx context.Context, membershipID uuid.UUID) (int, error)
	ResetConsecutiveMissed(ctx context.Context, membershipID uuid.UUID) error

	// Obligation ledger
	// CreateObligationIdempotent inserts the obligation unless one already
	// exists for (pool, cycle, user); returns false on the duplicate path.
	CreateObligationIdempotent(ctx context.Context, ob *domain.Obligation) (bool, error)
	GetObligation(ctx context.Context, obligationID uuid.UUID) (*domain.Obligation, error)
	FindUnsettledObligationsForCycle(ctx context.Context, cycleID uuid.UUID) ([]domain.Obligation, error)
	CountUnsettledObligations(ctx context.Context, poolID, userID uuid.UUID) (int, error)
	// FindOverdueObligations returns a member's unsettled obligations whose
	// cycle due date has passed, earliest due date first.
	FindOverdueObligations(ctx context.Context, poolID, userID uuid.UUID, asOf time.Time) ([]OverdueObligation, error)
	// SettleObligationAtomic marks the obligation settled and increments the
	// member's locked collateral by collateral_due in one transaction.
	// Settling twice is a no-op reported via the outcome, not an error.
	SettleObligationAtomic(ctx context.Context, obligationID uuid.UUID, settledAt time.Time) (*SettleOutcome, error)
	// DrawdownObligationAtomic settles the obligation via drawdown: debits
	// locked collateral by the outstanding contribution clamped to the locked
	// balance and records any shortfall as an unresolved deficit, all in one
	// transaction. Locked balance never goes negative.
	DrawdownObligationAtomic(ctx context.Context, obligationID uuid.UUID, asOf time.Time) (*DrawdownOutcome, error)

	// Collateral accounts
	GetCollateralAccount(ctx context.Context, poolID, userID uuid.UUID) (*domain.CollateralAccount, error)
	EnsureCollateralAccount(ctx context.Context, poolID, userID uuid.UUID) (*domain.CollateralAccount, error)
	// UnlockCollateralAtomic moves amount from locked to available, guarded
	// by locked >= amount, and stamps the unlock cycle.
	UnlockCollateralAtomic(ctx context.Context, poolID, userID uuid.UUID, amount int64, cycleNumber int) error
	ListUnresolvedDeficits(ctx context.Context, poolID uuid.UUID) ([]domain.CollateralDeficit, error)

	// Penalties
	CreatePenalty(ctx context.Context, p *domain.Penalty) error

	// Payout runs and instructions
	// CreateRunWithInstruction inserts the run and its single instruction,
	// relying on the unique (pool_id, cycle_id) constraint: on conflict it
	// returns the pre-existing run and instruction with created=false.
	CreateRunWithInstruction(ctx context.Context, run *domain.PayoutRun, instr *domain.PayoutInstruction) (existingRun *domain.PayoutRun, existingInstr *domain.PayoutInstruction, created bool, err error)
	GetRunByPoolCycle(ctx context.Context, poolID, cycleID uuid.UUID) (*domain.PayoutRun, error)
	GetInstruction(ctx context.Context, instructionID uuid.UUID) (*domain.PayoutInstruction, error)
	GetInstructionByRun(ctx context.Context, runID uuid.UUID) (*domain.PayoutInstruction, error)
	// TransitionInstruction applies the transition only when the current
	// status matches fromStatus. On a precondition failure it returns the
	// status actually found so callers can surface the conflict.
	TransitionInstruction(ctx context.Context, instructionID uuid.UUID, fromStatus string, params InstructionTransitionParams) (ok bool, currentStatus string, err error)
	FindDeferredInstructionsDue(ctx context.Context, asOf time.Time) ([]domain.PayoutInstruction, error)

	// Treasury
	GetLatestApprovedPolicy(ctx context.Context, poolID uuid.UUID) (*domain.TreasuryPolicy, error)
	SumLockedCollateral(ctx context.Context, poolID uuid.UUID) (int64, error)
	SumObligationsDueWithin(ctx context.Context, poolID uuid.UUID, from, to time.Time) (int64, error)
	// SumPendingDraws totals scheduled payout instructions plus pending
	// external draws. excludeInstruction (uuid.Nil for none) leaves that
	// instruction out of the total, so releasing a scheduled payout is not
	// blocked by its own reservation.
	SumPendingDraws(ctx context.Context, poolID uuid.UUID, excludeInstruction uuid.UUID) (int64, error)
}
