/**
 * @description
 * PostgreSQL methods backing the treasury policy guard: the latest approved
 * policy document and the aggregates that make up a pool's liquidity
 * position. The policy table is written by the external maker-checker
 * workflow; this engine only ever reads the newest approved row.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
)

// GetLatestApprovedPolicy returns the newest approved treasury policy for a
// pool.
func (r *PostgresRepository) GetLatestApprovedPolicy(ctx context.Context, poolID uuid.UUID) (*domain.TreasuryPolicy, error) {
	var p domain.TreasuryPolicy
	query := `
		SELECT id, pool_id, kill_draws, kill_unlocks, kill_payments,
		       user_daily_ceiling, org_daily_ceiling, max_draw_fraction,
		       min_reserve_fraction, volatility_buffer_fraction, approved_by, approved_at
		FROM treasury_policies
		WHERE pool_id = $1 AND status = 'approved'
		ORDER BY approved_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, poolID).Scan(
		&p.ID, &p.PoolID, &p.KillDraws, &p.KillUnlocks, &p.KillPayments,
		&p.UserDailyCeiling, &p.OrgDailyCeiling, &p.MaxDrawFraction,
		&p.MinReserveFrac, &p.VolatilityBuffer, &p.ApprovedBy, &p.ApprovedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SumLockedCollateral totals locked collateral across a pool.
func (r *PostgresRepository) SumLockedCollateral(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(locked_amount), 0) FROM collateral_accounts WHERE pool_id = $1`
	if err := r.db.QueryRow(ctx, query, poolID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// SumObligationsDueWithin totals unsettled contribution dues whose cycle due
// date falls in [from, to].
func (r *PostgresRepository) SumObligationsDueWithin(ctx context.Context, poolID uuid.UUID, from, to time.Time) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(o.contribution_due), 0)
		FROM obligations o
		JOIN pool_cycles c ON c.id = o.cycle_id
		WHERE o.pool_id = $1 AND o.settled = FALSE AND c.due_date >= $2 AND c.due_date <= $3
	`
	if err := r.db.QueryRow(ctx, query, poolID, from, to).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// SumPendingDraws totals money committed but not yet out the door: scheduled
// payout instructions plus pending external draws against the pool.
// excludeInstruction skips that instruction's scheduled amount; the guard
// passes the instruction being released so it does not count against the
// capacity it is checked against. uuid.Nil excludes nothing.
func (r *PostgresRepository) SumPendingDraws(ctx context.Context, poolID uuid.UUID, excludeInstruction uuid.UUID) (int64, error) {
	var scheduled int64
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payout_instructions WHERE pool_id = $1 AND status = 'scheduled' AND id <> $2`,
		poolID, excludeInstruction,
	).Scan(&scheduled); err != nil {
		return 0, err
	}

	var draws int64
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM treasury_draws WHERE pool_id = $1 AND status = 'pending'`,
		poolID,
	).Scan(&draws); err != nil {
		return 0, err
	}
	return scheduled + draws, nil
}
