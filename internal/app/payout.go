/**
 * @description
 * Payout run generation and the payout-instruction lifecycle. Run generation
 * is the engine's primary exactly-once boundary: the unique (pool, cycle)
 * constraint makes concurrent calls converge on one run and one instruction.
 * Instruction transitions are guarded by the `scheduled` precondition, and
 * the two entry points into `paid` (MarkPaid and ApproveSecure) share the
 * same precondition and liquidity check.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
	"github.com/hredostate/Togedaly-New-sub001/internal/store"
)

// GenerateRun materializes the payout run for a (pool, cycle), creating one
// `scheduled` instruction for the cycle's beneficiary. Calling it again for
// the same pair returns the existing run unchanged.
func (s *Service) GenerateRun(ctx context.Context, poolID, cycleID uuid.UUID, actor string) (*domain.GenerateRunResult, error) {
	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if !pool.Active {
		return nil, ErrPoolInactive
	}
	cycle, err := s.repo.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle.PoolID != pool.ID {
		return nil, &ValidationError{Msg: fmt.Sprintf("cycle %s does not belong to pool %s", cycleID, poolID)}
	}

	slot := domain.BeneficiarySlotForCycle(cycle.CycleNumber, pool.TotalSlots)
	beneficiary, err := s.repo.FindMembershipBySlot(ctx, poolID, slot)
	if err != nil {
		return nil, fmt.Errorf("resolve beneficiary for slot %d: %w", slot, err)
	}

	run := &domain.PayoutRun{
		ID:        uuid.New(),
		PoolID:    poolID,
		CycleID:   cycleID,
		CreatedBy: actor,
	}
	instr := &domain.PayoutInstruction{
		ID:               uuid.New(),
		RunID:            run.ID,
		PoolID:           poolID,
		CycleID:          cycleID,
		BeneficiaryID:    beneficiary.UserID,
		RotationPosition: slot,
		Amount:           pool.BaseAmount * int64(pool.TotalSlots),
		Status:           domain.InstructionScheduled,
	}

	existingRun, existingInstr, created, err := s.repo.CreateRunWithInstruction(ctx, run, instr)
	if err != nil {
		return nil, err
	}
	if !created {
		if s.metrics != nil {
			s.metrics.DuplicateRunHits.Inc()
		}
		return &domain.GenerateRunResult{
			RunID:          existingRun.ID,
			InstructionID:  existingInstr.ID,
			AlreadyExisted: true,
		}, nil
	}

	if s.metrics != nil {
		s.metrics.RunsGenerated.Inc()
	}
	s.publish(ctx, domain.EventRunGenerated, domain.PayoutEvent{
		RunID:         run.ID,
		InstructionID: instr.ID,
		PoolID:        poolID,
		CycleID:       cycleID,
		BeneficiaryID: instr.BeneficiaryID,
		Amount:        instr.Amount,
		Status:        domain.InstructionScheduled,
		Timestamp:     time.Now().UTC(),
	})
	s.logger.Info("payout run generated",
		"run_id", run.ID, "pool_id", poolID, "cycle_id", cycleID,
		"beneficiary", instr.BeneficiaryID, "amount", instr.Amount, "actor", actor)
	return &domain.GenerateRunResult{RunID: run.ID, InstructionID: instr.ID}, nil
}

// GetInstruction returns a payout instruction by id.
func (s *Service) GetInstruction(ctx context.Context, instructionID uuid.UUID) (*domain.PayoutInstruction, error) {
	return s.repo.GetInstruction(ctx, instructionID)
}

// releaseToPaid is the single path into the `paid` state, shared by MarkPaid
// and ApproveSecure so both carry the same precondition and liquidity gate.
func (s *Service) releaseToPaid(ctx context.Context, instructionID uuid.UUID, providerRef, approvedBy *string) error {
	instr, err := s.repo.GetInstruction(ctx, instructionID)
	if err != nil {
		return err
	}
	if instr.Status != domain.InstructionScheduled {
		return &ConflictError{Entity: "payout instruction", CurrentState: instr.Status}
	}

	decision, err := s.guard.AuthorizeRelease(ctx, domain.OperationPayment, instr.Amount, instr.PoolID, instr.BeneficiaryID.String(), instr.ID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &PolicyRejection{Operation: domain.OperationPayment, Reason: decision.Reason}
	}

	ok, current, err := s.repo.TransitionInstruction(ctx, instructionID, domain.InstructionScheduled, store.InstructionTransitionParams{
		Status:      domain.InstructionPaid,
		ProviderRef: providerRef,
		ApprovedBy:  approvedBy,
	})
	if err != nil {
		return err
	}
	if !ok {
		return &ConflictError{Entity: "payout instruction", CurrentState: current}
	}

	if s.metrics != nil {
		s.metrics.InstructionOutcomes.WithLabelValues(domain.InstructionPaid).Inc()
	}
	s.publish(ctx, domain.EventPayoutPaid, domain.PayoutEvent{
		RunID:         instr.RunID,
		InstructionID: instr.ID,
		PoolID:        instr.PoolID,
		CycleID:       instr.CycleID,
		BeneficiaryID: instr.BeneficiaryID,
		Amount:        instr.Amount,
		Status:        domain.InstructionPaid,
		Timestamp:     time.Now().UTC(),
	})
	return nil
}

// MarkPaid transitions a scheduled instruction to paid, recording the
// payment provider's reference. Callers deduplicate via the provider's
// idempotency key; the scheduled-state precondition prevents double-paying.
func (s *Service) MarkPaid(ctx context.Context, instructionID uuid.UUID, providerRef string) error {
	ref := strings.TrimSpace(providerRef)
	if ref == "" {
		return &ValidationError{Msg: "provider reference is required"}
	}
	return s.releaseToPaid(ctx, instructionID, &ref, nil)
}

// ApproveSecure is the maker-checker gate into `paid`: it requires a
// non-empty approver identity and otherwise shares MarkPaid's path.
func (s *Service) ApproveSecure(ctx context.Context, instructionID uuid.UUID, adminID string) error {
	admin := strings.TrimSpace(adminID)
	if admin == "" {
		return &ValidationError{Msg: "approver identity is required"}
	}
	return s.releaseToPaid(ctx, instructionID, nil, &admin)
}

// MarkFailed transitions a scheduled instruction to the terminal `failed`
// state. There is no automatic retry; recovery means a new run or an
// explicit override by the operations collaborator.
func (s *Service) MarkFailed(ctx context.Context, instructionID uuid.UUID, reason string) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return &ValidationError{Msg: "failure reason is required"}
	}

	ok, current, err := s.repo.TransitionInstruction(ctx, instructionID, domain.InstructionScheduled, store.InstructionTransitionParams{
		Status:        domain.InstructionFailed,
		FailureReason: &trimmed,
	})
	if err != nil {
		return err
	}
	if !ok {
		return &ConflictError{Entity: "payout instruction", CurrentState: current}
	}

	if s.metrics != nil {
		s.metrics.InstructionOutcomes.WithLabelValues(domain.InstructionFailed).Inc()
	}
	s.emitInstructionEvent(ctx, instructionID, domain.EventPayoutFailed, domain.InstructionFailed, trimmed)
	return nil
}

// DeferPayout parks a scheduled instruction without losing the scheduled
// amount, e.g. while the beneficiary is under dispute. Re-queueing is an
// explicit admin action, never automatic.
func (s *Service) DeferPayout(ctx context.Context, instructionID uuid.UUID, reason string, deferredUntil *time.Time) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return &ValidationError{Msg: "defer reason is required"}
	}

	ok, current, err := s.repo.TransitionInstruction(ctx, instructionID, domain.InstructionScheduled, store.InstructionTransitionParams{
		Status:        domain.InstructionDeferred,
		DeferReason:   &trimmed,
		DeferredUntil: deferredUntil,
	})
	if err != nil {
		return err
	}
	if !ok {
		return &ConflictError{Entity: "payout instruction", CurrentState: current}
	}

	if s.metrics != nil {
		s.metrics.InstructionOutcomes.WithLabelValues(domain.InstructionDeferred).Inc()
	}
	s.emitInstructionEvent(ctx, instructionID, domain.EventPayoutDeferred, domain.InstructionDeferred, trimmed)
	return nil
}

// RequeueDeferred returns a deferred instruction to `scheduled`, recording
// the admin who ordered it.
func (s *Service) RequeueDeferred(ctx context.Context, instructionID uuid.UUID, adminID string) error {
	admin := strings.TrimSpace(adminID)
	if admin == "" {
		return &ValidationError{Msg: "admin identity is required"}
	}

	ok, current, err := s.repo.TransitionInstruction(ctx, instructionID, domain.InstructionDeferred, store.InstructionTransitionParams{
		Status:     domain.InstructionScheduled,
		ApprovedBy: &admin,
	})
	if err != nil {
		return err
	}
	if !ok {
		return &ConflictError{Entity: "payout instruction", CurrentState: current}
	}

	if s.metrics != nil {
		s.metrics.InstructionOutcomes.WithLabelValues(domain.InstructionScheduled).Inc()
	}
	s.emitInstructionEvent(ctx, instructionID, domain.EventPayoutRequeued, domain.InstructionScheduled, "re-queued by "+admin)
	return nil
}

func (s *Service) emitInstructionEvent(ctx context.Context, instructionID uuid.UUID, routingKey, status, reason string) {
	instr, err := s.repo.GetInstruction(ctx, instructionID)
	if err != nil {
		s.logger.Warn("load instruction for event emission failed", "instruction_id", instructionID, "error", err)
		return
	}
	s.publish(ctx, routingKey, domain.PayoutEvent{
		RunID:         instr.RunID,
		InstructionID: instr.ID,
		PoolID:        instr.PoolID,
		CycleID:       instr.CycleID,
		BeneficiaryID: instr.BeneficiaryID,
		Amount:        instr.Amount,
		Status:        status,
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
	})
}
