/**
 * @description
 * PostgreSQL implementation of the `Repository` interface for pools, cycles,
 * memberships, the obligation ledger and collateral accounts. The payout and
 * treasury method sets live in sibling files.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetPool retrieves a pool by id.
func (r *PostgresRepository) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error) {
	var p domain.Pool
	query := `
		SELECT id, name, currency, base_amount, frequency, collateral_ratio,
		       min_lock_cycles, grace_period_days, total_slots, active, created_at, updated_at
		FROM pools WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, poolID).Scan(
		&p.ID, &p.Name, &p.Currency, &p.BaseAmount, &p.Frequency, &p.CollateralRatio,
		&p.MinLockCycles, &p.GracePeriodDays, &p.TotalSlots, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetCycle retrieves a pool cycle by id.
func (r *PostgresRepository) GetCycle(ctx context.Context, cycleID uuid.UUID) (*domain.PoolCycle, error) {
	var c domain.PoolCycle
	query := `SELECT id, pool_id, cycle_number, due_date, created_at FROM pool_cycles WHERE id = $1`
	err := r.db.QueryRow(ctx, query, cycleID).Scan(&c.ID, &c.PoolID, &c.CycleNumber, &c.DueDate, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCyclesDueBefore returns cycles of active pools whose due date has
// passed. Used by the due-date sweep job.
func (r *PostgresRepository) FindCyclesDueBefore(ctx context.Context, asOf time.Time) ([]domain.PoolCycle, error) {
	query := `
		SELECT c.id, c.pool_id, c.cycle_number, c.due_date, c.created_at
		FROM pool_cycles c
		JOIN pools p ON p.id = c.pool_id
		WHERE p.active = TRUE AND c.due_date <= $1
		ORDER BY c.due_date ASC
	`
	rows, err := r.db.Query(ctx, query, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []domain.PoolCycle
	for rows.Next() {
		var c domain.PoolCycle
		if err := rows.Scan(&c.ID, &c.PoolID, &c.CycleNumber, &c.DueDate, &c.CreatedAt); err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// GetMembership retrieves a membership by id.
func (r *PostgresRepository) GetMembership(ctx context.Context, membershipID uuid.UUID) (*domain.Membership, error) {
	var m domain.Membership
	query := `
		SELECT id, pool_id, user_id, status, rotation_slot, trust_score,
		       default_state, consecutive_missed, joined_at, updated_at
		FROM memberships WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, membershipID).Scan(
		&m.ID, &m.PoolID, &m.UserID, &m.Status, &m.RotationSlot, &m.TrustScore,
		&m.DefaultState, &m.ConsecutiveMissed, &m.JoinedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindActiveMemberships returns all active memberships of a pool ordered by
// rotation slot.
func (r *PostgresRepository) FindActiveMemberships(ctx context.Context, poolID uuid.UUID) ([]domain.Membership, error) {
	query := `
		SELECT id, pool_id, user_id, status, rotation_slot, trust_score,
		       default_state, consecutive_missed, joined_at, updated_at
		FROM memberships
		WHERE pool_id = $1 AND status = 'active'
		ORDER BY rotation_slot ASC
	`
	rows, err := r.db.Query(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(
			&m.ID, &m.PoolID, &m.UserID, &m.Status, &m.RotationSlot, &m.TrustScore,
			&m.DefaultState, &m.ConsecutiveMissed, &m.JoinedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// FindMembershipBySlot returns the active membership holding a rotation slot.
func (r *PostgresRepository) FindMembershipBySlot(ctx context.Context, poolID uuid.UUID, slot int) (*domain.Membership, error) {
	var m domain.Membership
	query := `
		SELECT id, pool_id, user_id, status, rotation_slot, trust_score,
		       default_state, consecutive_missed, joined_at, updated_at
		FROM memberships
		WHERE pool_id = $1 AND rotation_slot = $2 AND status = 'active'
	`
	err := r.db.QueryRow(ctx, query, poolID, slot).Scan(
		&m.ID, &m.PoolID, &m.UserID, &m.Status, &m.RotationSlot, &m.TrustScore,
		&m.DefaultState, &m.ConsecutiveMissed, &m.JoinedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindMembershipByPoolUser returns a user's membership in a pool.
func (r *PostgresRepository) FindMembershipByPoolUser(ctx context.Context, poolID, userID uuid.UUID) (*domain.Membership, error) {
	var m domain.Membership
	query := `
		SELECT id, pool_id, user_id, status, rotation_slot, trust_score,
		       default_state, consecutive_missed, joined_at, updated_at
		FROM memberships
		WHERE pool_id = $1 AND user_id = $2
	`
	err := r.db.QueryRow(ctx, query, poolID, userID).Scan(
		&m.ID, &m.PoolID, &m.UserID, &m.Status, &m.RotationSlot, &m.TrustScore,
		&m.DefaultState, &m.ConsecutiveMissed, &m.JoinedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

// CreateMembership inserts a membership. Joins into an active pool are
// rejected, and the unique (pool_id, rotation_slot) index rejects duplicate
// slot assignments.
// ActivatePool activates a pool once its roster is complete. The slot check
// mirrors the join-time validation: slots are unique per pool, so a count of
// distinct in-range slots equal to total_slots means a full permutation of
// 1..total_slots.
func (r *PostgresRepository) ActivatePool(ctx context.Context, poolID uuid.UUID) (bool, error) {
	query := `
		UPDATE pools p
		SET active = TRUE, updated_at = NOW()
		WHERE p.id = $1
		  AND p.active = FALSE
		  AND (
			SELECT COUNT(DISTINCT m.rotation_slot)
			FROM memberships m
			WHERE m.pool_id = p.id
			  AND m.status = 'active'
			  AND m.rotation_slot BETWEEN 1 AND p.total_slots
		  ) = p.total_slots
	`
	result, err := r.db.Exec(ctx, query, poolID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	query := `
		INSERT INTO memberships (id, pool_id, user_id, status, rotation_slot, trust_score,
		                         default_state, consecutive_missed, joined_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, 0, NOW(), NOW()
		WHERE EXISTS (SELECT 1 FROM pools WHERE id = $2 AND active = FALSE)
	`
	result, err := r.db.Exec(ctx, query,
		m.ID, m.PoolID, m.UserID, m.Status, m.RotationSlot, m.TrustScore, domain.DefaultStateNone,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return err
	}
	if result.RowsAffected() == 0 {
		// Either the pool does not exist or it has already been activated;
		// distinguish so callers can report the right condition.
		if _, lookupErr := r.GetPool(ctx, m.PoolID); lookupErr != nil {
			return lookupErr
		}
		return ErrPoolActive
	}
	return nil
}

// TransitionDefaultState flips default_state only when the current value
// matches fromState.
func (r *PostgresRepository) TransitionDefaultState(ctx context.Context, membershipID uuid.UUID, fromState, toState string) (bool, error) {
	query := `
		UPDATE memberships
		SET default_state = $3, updated_at = NOW()
		WHERE id = $1 AND default_state = $2
	`
	result, err := r.db.Exec(ctx, query, membershipID, fromState, toState)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// IncrementConsecutiveMissed bumps the lifetime missed counter and returns
// the new value.
func (r *PostgresRepository) IncrementConsecutiveMissed(ctx context.Context, membershipID uuid.UUID) (int, error) {
	var missed int
	query := `
		UPDATE memberships
		SET consecutive_missed = consecutive_missed + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING consecutive_missed
	`
	if err := r.db.QueryRow(ctx, query, membershipID).Scan(&missed); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrMembershipNotFound
		}
		return 0, err
	}
	return missed, nil
}

// ResetConsecutiveMissed clears the missed counter. Only reachable through
// the explicit admin/policy endpoint, never from the state machine itself.
func (r *PostgresRepository) ResetConsecutiveMissed(ctx context.Context, membershipID uuid.UUID) error {
	result, err := r.db.Exec(ctx,
		`UPDATE memberships SET consecutive_missed = 0, updated_at = NOW() WHERE id = $1`, membershipID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// CreateObligationIdempotent inserts the obligation unless one already exists
// for (pool, cycle, user). Re-invocation is a no-op.
func (r *PostgresRepository) CreateObligationIdempotent(ctx context.Context, ob *domain.Obligation) (bool, error) {
	query := `
		INSERT INTO obligations (id, pool_id, user_id, cycle_id, contribution_due, collateral_due,
		                         settled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NOW())
		ON CONFLICT (pool_id, cycle_id, user_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query, ob.ID, ob.PoolID, ob.UserID, ob.CycleID, ob.ContributionDue, ob.CollateralDue)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// GetObligation retrieves an obligation by id.
func (r *PostgresRepository) GetObligation(ctx context.Context, obligationID uuid.UUID) (*domain.Obligation, error) {
	var ob domain.Obligation
	query := `
		SELECT id, pool_id, user_id, cycle_id, contribution_due, collateral_due,
		       settled, settled_via, settled_at, created_at
		FROM obligations WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, obligationID).Scan(
		&ob.ID, &ob.PoolID, &ob.UserID, &ob.CycleID, &ob.ContributionDue, &ob.CollateralDue,
		&ob.Settled, &ob.SettledVia, &ob.SettledAt, &ob.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrObligationNotFound
		}
		return nil, err
	}
	return &ob, nil
}

// FindUnsettledObligationsForCycle returns the unsettled obligations of a
// cycle, joined against active memberships only.
func (r *PostgresRepository) FindUnsettledObligationsForCycle(ctx context.Context, cycleID uuid.UUID) ([]domain.Obligation, error) {
	query := `
		SELECT o.id, o.pool_id, o.user_id, o.cycle_id, o.contribution_due, o.collateral_due,
		       o.settled, o.settled_via, o.settled_at, o.created_at
		FROM obligations o
		JOIN memberships m ON m.pool_id = o.pool_id AND m.user_id = o.user_id
		WHERE o.cycle_id = $1 AND o.settled = FALSE AND m.status = 'active'
		ORDER BY o.created_at ASC
	`
	rows, err := r.db.Query(ctx, query, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obligations []domain.Obligation
	for rows.Next() {
		var ob domain.Obligation
		if err := rows.Scan(
			&ob.ID, &ob.PoolID, &ob.UserID, &ob.CycleID, &ob.ContributionDue, &ob.CollateralDue,
			&ob.Settled, &ob.SettledVia, &ob.SettledAt, &ob.CreatedAt,
		); err != nil {
			return nil, err
		}
		obligations = append(obligations, ob)
	}
	return obligations, rows.Err()
}

// CountUnsettledObligations counts a member's open obligations in a pool.
func (r *PostgresRepository) CountUnsettledObligations(ctx context.Context, poolID, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM obligations WHERE pool_id = $1 AND user_id = $2 AND settled = FALSE`
	if err := r.db.QueryRow(ctx, query, poolID, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FindOverdueObligations returns a member's unsettled obligations whose
// cycle due date has passed, earliest first.
func (r *PostgresRepository) FindOverdueObligations(ctx context.Context, poolID, userID uuid.UUID, asOf time.Time) ([]OverdueObligation, error) {
	query := `
		SELECT o.id, o.pool_id, o.user_id, o.cycle_id, o.contribution_due, o.collateral_due,
		       o.settled, o.settled_via, o.settled_at, o.created_at,
		       c.cycle_number, c.due_date
		FROM obligations o
		JOIN pool_cycles c ON c.id = o.cycle_id
		WHERE o.pool_id = $1 AND o.user_id = $2 AND o.settled = FALSE AND c.due_date <= $3
		ORDER BY c.due_date ASC
	`
	rows, err := r.db.Query(ctx, query, poolID, userID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []OverdueObligation
	for rows.Next() {
		var item OverdueObligation
		ob := &item.Obligation
		if err := rows.Scan(
			&ob.ID, &ob.PoolID, &ob.UserID, &ob.CycleID, &ob.ContributionDue, &ob.CollateralDue,
			&ob.Settled, &ob.SettledVia, &ob.SettledAt, &ob.CreatedAt,
			&item.CycleNumber, &item.DueDate,
		); err != nil {
			return nil, err
		}
		overdue = append(overdue, item)
	}
	return overdue, rows.Err()
}

// SettleObligationAtomic marks the obligation settled and credits the
// member's locked collateral in a single transaction. The conditional
// UPDATE on `settled = FALSE` makes duplicate settlement a no-op: the second
// caller sees zero rows affected and reads back the already-settled row.
func (r *PostgresRepository) SettleObligationAtomic(ctx context.Context, obligationID uuid.UUID, settledAt time.Time) (*SettleOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		poolID          uuid.UUID
		userID          uuid.UUID
		contributionDue int64
		collateralDue   int64
	)
	settleQuery := `
		UPDATE obligations
		SET settled = TRUE, settled_via = $2, settled_at = $3
		WHERE id = $1 AND settled = FALSE
		RETURNING pool_id, user_id, contribution_due, collateral_due
	`
	err = tx.QueryRow(ctx, settleQuery, obligationID, domain.SettlementPayment, settledAt).Scan(
		&poolID, &userID, &contributionDue, &collateralDue,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Not updated: either already settled (idempotent no-op) or absent.
			ob, lookupErr := r.GetObligation(ctx, obligationID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &SettleOutcome{
				AlreadySettled:  true,
				CollateralDue:   ob.CollateralDue,
				ContributionDue: ob.ContributionDue,
			}, nil
		}
		return nil, err
	}

	creditQuery := `
		INSERT INTO collateral_accounts (id, pool_id, user_id, locked_amount, available_amount, last_unlock_cycle, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, NOW())
		ON CONFLICT (pool_id, user_id)
		DO UPDATE SET locked_amount = collateral_accounts.locked_amount + EXCLUDED.locked_amount, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, creditQuery, uuid.New(), poolID, userID, collateralDue); err != nil {
		return nil, fmt.Errorf("credit locked collateral: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &SettleOutcome{CollateralDue: collateralDue, ContributionDue: contributionDue}, nil
}

// DrawdownObligationAtomic settles an obligation against the member's locked
// collateral: the debit is clamped to the locked balance and any shortfall is
// recorded as an unresolved deficit, all in one transaction.
func (r *PostgresRepository) DrawdownObligationAtomic(ctx context.Context, obligationID uuid.UUID, asOf time.Time) (*DrawdownOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin drawdown tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		poolID          uuid.UUID
		userID          uuid.UUID
		contributionDue int64
	)
	settleQuery := `
		UPDATE obligations
		SET settled = TRUE, settled_via = $2, settled_at = $3
		WHERE id = $1 AND settled = FALSE
		RETURNING pool_id, user_id, contribution_due
	`
	err = tx.QueryRow(ctx, settleQuery, obligationID, domain.SettlementDrawdown, asOf).Scan(
		&poolID, &userID, &contributionDue,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, lookupErr := r.GetObligation(ctx, obligationID); lookupErr != nil {
				return nil, lookupErr
			}
			return &DrawdownOutcome{AlreadySettled: true}, nil
		}
		return nil, err
	}

	// Lock the account row, clamp the debit to the locked balance, then
	// apply it. locked_amount never goes negative.
	var locked int64
	if err := tx.QueryRow(ctx,
		`SELECT locked_amount FROM collateral_accounts WHERE pool_id = $1 AND user_id = $2 FOR UPDATE`,
		poolID, userID,
	).Scan(&locked); err != nil {
		if err == pgx.ErrNoRows {
			locked = 0
		} else {
			return nil, err
		}
	}
	drawn := contributionDue
	if drawn > locked {
		drawn = locked
	}
	if drawn > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE collateral_accounts SET locked_amount = locked_amount - $3, updated_at = NOW()
			 WHERE pool_id = $1 AND user_id = $2`,
			poolID, userID, drawn,
		); err != nil {
			return nil, fmt.Errorf("debit locked collateral: %w", err)
		}
	}

	outcome := &DrawdownOutcome{Drawn: drawn, Deficit: contributionDue - drawn}
	if outcome.Deficit > 0 {
		deficitID := uuid.New()
		if _, err := tx.Exec(ctx,
			`INSERT INTO collateral_deficits (id, pool_id, user_id, obligation_id, amount, resolved, created_at)
			 VALUES ($1, $2, $3, $4, $5, FALSE, NOW())`,
			deficitID, poolID, userID, obligationID, outcome.Deficit,
		); err != nil {
			return nil, fmt.Errorf("record collateral deficit: %w", err)
		}
		outcome.DeficitID = &deficitID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return outcome, nil
}

// GetCollateralAccount retrieves a member's collateral account.
func (r *PostgresRepository) GetCollateralAccount(ctx context.Context, poolID, userID uuid.UUID) (*domain.CollateralAccount, error) {
	var a domain.CollateralAccount
	query := `
		SELECT id, pool_id, user_id, locked_amount, available_amount, last_unlock_cycle, updated_at
		FROM collateral_accounts WHERE pool_id = $1 AND user_id = $2
	`
	err := r.db.QueryRow(ctx, query, poolID, userID).Scan(
		&a.ID, &a.PoolID, &a.UserID, &a.LockedAmount, &a.AvailableAmount, &a.LastUnlockCycle, &a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// EnsureCollateralAccount returns the account, creating an empty one if the
// member has never settled collateral before.
func (r *PostgresRepository) EnsureCollateralAccount(ctx context.Context, poolID, userID uuid.UUID) (*domain.CollateralAccount, error) {
	query := `
		INSERT INTO collateral_accounts (id, pool_id, user_id, locked_amount, available_amount, last_unlock_cycle, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, NOW())
		ON CONFLICT (pool_id, user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, uuid.New(), poolID, userID); err != nil {
		return nil, err
	}
	return r.GetCollateralAccount(ctx, poolID, userID)
}

// UnlockCollateralAtomic moves amount from locked to available in a single
// guarded statement. The `locked_amount >= $3` condition makes a concurrent
// over-unlock impossible.
func (r *PostgresRepository) UnlockCollateralAtomic(ctx context.Context, poolID, userID uuid.UUID, amount int64, cycleNumber int) error {
	query := `
		UPDATE collateral_accounts
		SET locked_amount = locked_amount - $3,
		    available_amount = available_amount + $3,
		    last_unlock_cycle = $4,
		    updated_at = NOW()
		WHERE pool_id = $1 AND user_id = $2 AND locked_amount >= $3
	`
	result, err := r.db.Exec(ctx, query, poolID, userID, amount, cycleNumber)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		if _, lookupErr := r.GetCollateralAccount(ctx, poolID, userID); lookupErr != nil {
			return lookupErr
		}
		return ErrInsufficientLocked
	}
	return nil
}

// ListUnresolvedDeficits returns the open deficits of a pool for reporting.
func (r *PostgresRepository) ListUnresolvedDeficits(ctx context.Context, poolID uuid.UUID) ([]domain.CollateralDeficit, error) {
	query := `
		SELECT id, pool_id, user_id, obligation_id, amount, resolved, created_at
		FROM collateral_deficits
		WHERE pool_id = $1 AND resolved = FALSE
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deficits []domain.CollateralDeficit
	for rows.Next() {
		var d domain.CollateralDeficit
		if err := rows.Scan(&d.ID, &d.PoolID, &d.UserID, &d.ObligationID, &d.Amount, &d.Resolved, &d.CreatedAt); err != nil {
			return nil, err
		}
		deficits = append(deficits, d)
	}
	return deficits, rows.Err()
}

// CreatePenalty records a penalty assessment.
func (r *PostgresRepository) CreatePenalty(ctx context.Context, p *domain.Penalty) error {
	query := `
		INSERT INTO penalties (id, pool_id, membership_id, cycle_id, amount, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, p.ID, p.PoolID, p.MembershipID, p.CycleID, p.Amount, p.AssessedAt)
	return err
}
