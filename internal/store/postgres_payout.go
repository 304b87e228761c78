/**
 * @description
 * PostgreSQL methods for payout runs and payout instructions. Run creation
 * leans on the unique (pool_id, cycle_id) constraint for its exactly-once
 * guarantee; instruction transitions are conditional UPDATEs on the current
 * status so two concurrent callers can never both succeed.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
)

// CreateRunWithInstruction inserts the run and its single instruction in one
// transaction. On a (pool_id, cycle_id) conflict nothing is inserted and the
// pre-existing run and instruction are read back, so concurrent callers all
// observe the same run id.
func (r *PostgresRepository) CreateRunWithInstruction(ctx context.Context, run *domain.PayoutRun, instr *domain.PayoutInstruction) (*domain.PayoutRun, *domain.PayoutInstruction, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("begin run tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insertRun := `
		INSERT INTO payout_runs (id, pool_id, cycle_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (pool_id, cycle_id) DO NOTHING
	`
	result, err := tx.Exec(ctx, insertRun, run.ID, run.PoolID, run.CycleID, run.CreatedBy)
	if err != nil {
		return nil, nil, false, fmt.Errorf("insert payout run: %w", err)
	}

	if result.RowsAffected() == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, false, err
		}
		existingRun, err := r.GetRunByPoolCycle(ctx, run.PoolID, run.CycleID)
		if err != nil {
			return nil, nil, false, err
		}
		existingInstr, err := r.GetInstructionByRun(ctx, existingRun.ID)
		if err != nil {
			return nil, nil, false, err
		}
		return existingRun, existingInstr, false, nil
	}

	insertInstr := `
		INSERT INTO payout_instructions (id, run_id, pool_id, cycle_id, beneficiary_user_id,
		                                 rotation_position, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`
	if _, err := tx.Exec(ctx, insertInstr,
		instr.ID, run.ID, instr.PoolID, instr.CycleID, instr.BeneficiaryID,
		instr.RotationPosition, instr.Amount, domain.InstructionScheduled,
	); err != nil {
		return nil, nil, false, fmt.Errorf("insert payout instruction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, err
	}
	return run, instr, true, nil
}

// GetRunByPoolCycle retrieves the run for a (pool, cycle) pair.
func (r *PostgresRepository) GetRunByPoolCycle(ctx context.Context, poolID, cycleID uuid.UUID) (*domain.PayoutRun, error) {
	var run domain.PayoutRun
	query := `SELECT id, pool_id, cycle_id, created_by, created_at FROM payout_runs WHERE pool_id = $1 AND cycle_id = $2`
	err := r.db.QueryRow(ctx, query, poolID, cycleID).Scan(&run.ID, &run.PoolID, &run.CycleID, &run.CreatedBy, &run.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

const instructionColumns = `
	id, run_id, pool_id, cycle_id, beneficiary_user_id, rotation_position, amount, status,
	provider_reference, failure_reason, defer_reason, deferred_until, approved_by, created_at, updated_at
`

func scanInstruction(row pgx.Row) (*domain.PayoutInstruction, error) {
	var in domain.PayoutInstruction
	err := row.Scan(
		&in.ID, &in.RunID, &in.PoolID, &in.CycleID, &in.BeneficiaryID, &in.RotationPosition,
		&in.Amount, &in.Status, &in.ProviderRef, &in.FailureReason, &in.DeferReason,
		&in.DeferredUntil, &in.ApprovedBy, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInstructionNotFound
		}
		return nil, err
	}
	return &in, nil
}

// GetInstruction retrieves a payout instruction by id.
func (r *PostgresRepository) GetInstruction(ctx context.Context, instructionID uuid.UUID) (*domain.PayoutInstruction, error) {
	query := `SELECT ` + instructionColumns + ` FROM payout_instructions WHERE id = $1`
	return scanInstruction(r.db.QueryRow(ctx, query, instructionID))
}

// GetInstructionByRun retrieves the single instruction of a run.
func (r *PostgresRepository) GetInstructionByRun(ctx context.Context, runID uuid.UUID) (*domain.PayoutInstruction, error) {
	query := `SELECT ` + instructionColumns + ` FROM payout_instructions WHERE run_id = $1`
	return scanInstruction(r.db.QueryRow(ctx, query, runID))
}

// TransitionInstruction applies a status transition guarded by the current
// status. When the precondition fails the status actually found is returned
// so the caller can surface a Conflict with the current state.
func (r *PostgresRepository) TransitionInstruction(ctx context.Context, instructionID uuid.UUID, fromStatus string, params InstructionTransitionParams) (bool, string, error) {
	query := `
		UPDATE payout_instructions
		SET status = $3,
		    provider_reference = COALESCE($4, provider_reference),
		    failure_reason = COALESCE($5, failure_reason),
		    defer_reason = COALESCE($6, defer_reason),
		    deferred_until = COALESCE($7, deferred_until),
		    approved_by = COALESCE($8, approved_by),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.Exec(ctx, query,
		instructionID, fromStatus, params.Status,
		params.ProviderRef, params.FailureReason, params.DeferReason, params.DeferredUntil, params.ApprovedBy,
	)
	if err != nil {
		return false, "", err
	}
	if result.RowsAffected() == 1 {
		return true, params.Status, nil
	}

	current, err := r.GetInstruction(ctx, instructionID)
	if err != nil {
		return false, "", err
	}
	return false, current.Status, nil
}

// FindDeferredInstructionsDue returns deferred instructions whose
// deferred_until has elapsed. Used by the revisit job for operator reporting;
// re-queueing stays an explicit admin action.
func (r *PostgresRepository) FindDeferredInstructionsDue(ctx context.Context, asOf time.Time) ([]domain.PayoutInstruction, error) {
	query := `SELECT ` + instructionColumns + `
		FROM payout_instructions
		WHERE status = 'deferred' AND deferred_until IS NOT NULL AND deferred_until <= $1
		ORDER BY deferred_until ASC
	`
	rows, err := r.db.Query(ctx, query, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instructions []domain.PayoutInstruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, *in)
	}
	return instructions, rows.Err()
}
