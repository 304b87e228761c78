package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
	"github.com/hredostate/Togedaly-New-sub001/internal/store"
)

type payoutRepoStub struct {
	guardRepoStub

	pool        *domain.Pool
	cycle       *domain.PoolCycle
	memberships map[int]*domain.Membership // rotation slot -> membership

	existingRun   *domain.PayoutRun
	existingInstr *domain.PayoutInstruction

	createdRun   *domain.PayoutRun
	createdInstr *domain.PayoutInstruction

	instruction *domain.PayoutInstruction

	transitionOK      bool
	transitionCurrent string
	lastFromStatus    string
	lastParams        store.InstructionTransitionParams
}

func (s *payoutRepoStub) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error) {
	return s.pool, nil
}

func (s *payoutRepoStub) GetCycle(ctx context.Context, cycleID uuid.UUID) (*domain.PoolCycle, error) {
	return s.cycle, nil
}

func (s *payoutRepoStub) FindMembershipBySlot(ctx context.Context, poolID uuid.UUID, slot int) (*domain.Membership, error) {
	m, ok := s.memberships[slot]
	if !ok {
		return nil, store.ErrMembershipNotFound
	}
	return m, nil
}

func (s *payoutRepoStub) CreateRunWithInstruction(ctx context.Context, run *domain.PayoutRun, instr *domain.PayoutInstruction) (*domain.PayoutRun, *domain.PayoutInstruction, bool, error) {
	if s.existingRun != nil {
		return s.existingRun, s.existingInstr, false, nil
	}
	s.createdRun = run
	s.createdInstr = instr
	return run, instr, true, nil
}

func (s *payoutRepoStub) GetInstruction(ctx context.Context, instructionID uuid.UUID) (*domain.PayoutInstruction, error) {
	if s.instruction == nil {
		return nil, store.ErrInstructionNotFound
	}
	return s.instruction, nil
}

func (s *payoutRepoStub) TransitionInstruction(ctx context.Context, instructionID uuid.UUID, fromStatus string, params store.InstructionTransitionParams) (bool, string, error) {
	s.lastFromStatus = fromStatus
	s.lastParams = params
	if !s.transitionOK {
		return false, s.transitionCurrent, nil
	}
	s.instruction.Status = params.Status
	return true, params.Status, nil
}

func newPayoutStub() *payoutRepoStub {
	pool := &domain.Pool{
		ID:         uuid.New(),
		BaseAmount: 10_000,
		TotalSlots: 3,
		Active:     true,
	}
	stub := &payoutRepoStub{
		pool:        pool,
		memberships: map[int]*domain.Membership{},
	}
	for slot := 1; slot <= 3; slot++ {
		stub.memberships[slot] = &domain.Membership{
			ID: uuid.New(), PoolID: pool.ID, UserID: uuid.New(), RotationSlot: slot, Status: domain.MembershipActive,
		}
	}
	stub.guardRepoStub.policy = permissivePolicy()
	stub.guardRepoStub.locked = 1_000_000
	return stub
}

func TestGenerateRunResolvesRotation(t *testing.T) {
	repo := newPayoutStub()
	// Cycle 4 of a 3-slot pool wraps back to slot 1.
	repo.cycle = &domain.PoolCycle{ID: uuid.New(), PoolID: repo.pool.ID, CycleNumber: 4}
	events := &capturePublisher{}
	svc := newTestService(repo, nil, events, nil)

	result, err := svc.GenerateRun(context.Background(), repo.pool.ID, repo.cycle.ID, "scheduler")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AlreadyExisted {
		t.Fatal("fresh generation reported as replay")
	}
	if repo.createdInstr.RotationPosition != 1 {
		t.Fatalf("rotation position = %d, want 1", repo.createdInstr.RotationPosition)
	}
	if repo.createdInstr.BeneficiaryID != repo.memberships[1].UserID {
		t.Fatal("instruction addressed to the wrong beneficiary")
	}
	if repo.createdInstr.Amount != 30_000 {
		t.Fatalf("payout amount = %d, want base x slots = 30000", repo.createdInstr.Amount)
	}
	if repo.createdInstr.Status != domain.InstructionScheduled {
		t.Fatalf("instruction status = %q, want scheduled", repo.createdInstr.Status)
	}
	keys := events.keys()
	if len(keys) != 1 || keys[0] != domain.EventRunGenerated {
		t.Fatalf("event keys = %v", keys)
	}
}

func TestGenerateRunReplayReturnsExistingRun(t *testing.T) {
	repo := newPayoutStub()
	repo.cycle = &domain.PoolCycle{ID: uuid.New(), PoolID: repo.pool.ID, CycleNumber: 1}
	repo.existingRun = &domain.PayoutRun{ID: uuid.New(), PoolID: repo.pool.ID, CycleID: repo.cycle.ID}
	repo.existingInstr = &domain.PayoutInstruction{ID: uuid.New(), RunID: repo.existingRun.ID}
	events := &capturePublisher{}
	svc := newTestService(repo, nil, events, nil)

	result, err := svc.GenerateRun(context.Background(), repo.pool.ID, repo.cycle.ID, "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.AlreadyExisted {
		t.Fatal("replay not reported")
	}
	if result.RunID != repo.existingRun.ID || result.InstructionID != repo.existingInstr.ID {
		t.Fatal("replay returned different identifiers")
	}
	if len(events.events) != 0 {
		t.Fatalf("replay published %d events, want 0", len(events.events))
	}
}

func TestGenerateRunRejectsInactivePool(t *testing.T) {
	repo := newPayoutStub()
	repo.pool.Active = false
	repo.cycle = &domain.PoolCycle{ID: uuid.New(), PoolID: repo.pool.ID, CycleNumber: 1}
	svc := newTestService(repo, nil, nil, nil)

	if _, err := svc.GenerateRun(context.Background(), repo.pool.ID, repo.cycle.ID, "api"); !errors.Is(err, ErrPoolInactive) {
		t.Fatalf("got %v, want ErrPoolInactive", err)
	}
}

func TestGenerateRunRejectsForeignCycle(t *testing.T) {
	repo := newPayoutStub()
	repo.cycle = &domain.PoolCycle{ID: uuid.New(), PoolID: uuid.New(), CycleNumber: 1}
	svc := newTestService(repo, nil, nil, nil)

	if _, err := svc.GenerateRun(context.Background(), repo.pool.ID, repo.cycle.ID, "api"); !IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func scheduledInstruction(repo *payoutRepoStub) *domain.PayoutInstruction {
	return &domain.PayoutInstruction{
		ID:            uuid.New(),
		RunID:         uuid.New(),
		PoolID:        repo.pool.ID,
		CycleID:       uuid.New(),
		BeneficiaryID: repo.memberships[1].UserID,
		Amount:        30_000,
		Status:        domain.InstructionScheduled,
	}
}

func TestMarkPaidTransitionsScheduledInstruction(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.transitionOK = true
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	events := &capturePublisher{}
	svc := newTestService(repo, guard, events, nil)

	if err := svc.MarkPaid(context.Background(), repo.instruction.ID, "anchor-tr-123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastFromStatus != domain.InstructionScheduled {
		t.Fatalf("transition precondition = %q, want scheduled", repo.lastFromStatus)
	}
	if repo.lastParams.Status != domain.InstructionPaid {
		t.Fatalf("transition target = %q, want paid", repo.lastParams.Status)
	}
	if repo.lastParams.ProviderRef == nil || *repo.lastParams.ProviderRef != "anchor-tr-123" {
		t.Fatal("provider reference not recorded")
	}
	keys := events.keys()
	if len(keys) != 1 || keys[0] != domain.EventPayoutPaid {
		t.Fatalf("event keys = %v", keys)
	}
}

func TestMarkPaidNotBlockedByOwnScheduledAmount(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.transitionOK = true
	// The pool holds exactly the payout amount; the instruction being
	// released is the only pending draw.
	repo.guardRepoStub.locked = repo.instruction.Amount
	repo.guardRepoStub.pendingDraws = repo.instruction.Amount
	repo.guardRepoStub.instrPending = map[uuid.UUID]int64{repo.instruction.ID: repo.instruction.Amount}
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	svc := newTestService(repo, guard, nil, nil)

	if err := svc.MarkPaid(context.Background(), repo.instruction.ID, "anchor-tr-321"); err != nil {
		t.Fatalf("release blocked by its own scheduled amount: %v", err)
	}
	if repo.lastParams.Status != domain.InstructionPaid {
		t.Fatalf("transition target = %q, want paid", repo.lastParams.Status)
	}
}

func TestMarkPaidRejectsNonScheduled(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.instruction.Status = domain.InstructionPaid
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	svc := newTestService(repo, guard, nil, nil)

	err := svc.MarkPaid(context.Background(), repo.instruction.ID, "anchor-tr-456")
	if !IsConflict(err) {
		t.Fatalf("got %v, want conflict", err)
	}
	if repo.lastFromStatus != "" {
		t.Fatal("conflicting instruction still reached the transition")
	}
}

func TestMarkPaidLosesRaceCleanly(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.transitionOK = false
	repo.transitionCurrent = domain.InstructionPaid
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	svc := newTestService(repo, guard, nil, nil)

	err := svc.MarkPaid(context.Background(), repo.instruction.ID, "anchor-tr-789")
	if !IsConflict(err) {
		t.Fatalf("got %v, want conflict after lost race", err)
	}
}

func TestMarkPaidBlockedByPaymentKillSwitch(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.guardRepoStub.policy.KillPayments = true
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	svc := newTestService(repo, guard, nil, nil)

	err := svc.MarkPaid(context.Background(), repo.instruction.ID, "anchor-tr-000")
	if !IsPolicyRejection(err) {
		t.Fatalf("got %v, want policy rejection", err)
	}
	if repo.lastFromStatus != "" {
		t.Fatal("killed payment still reached the transition")
	}
}

func TestMarkPaidRequiresProviderReference(t *testing.T) {
	svc := newTestService(newPayoutStub(), nil, nil, nil)

	if err := svc.MarkPaid(context.Background(), uuid.New(), "  "); !IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestApproveSecureSharesPaidPath(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.transitionOK = true
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	svc := newTestService(repo, guard, nil, nil)

	if err := svc.ApproveSecure(context.Background(), repo.instruction.ID, "admin-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastParams.Status != domain.InstructionPaid {
		t.Fatalf("transition target = %q, want paid", repo.lastParams.Status)
	}
	if repo.lastParams.ApprovedBy == nil || *repo.lastParams.ApprovedBy != "admin-42" {
		t.Fatal("approver not recorded")
	}
}

func TestMarkFailedRecordsReason(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.transitionOK = true
	events := &capturePublisher{}
	svc := newTestService(repo, nil, events, nil)

	if err := svc.MarkFailed(context.Background(), repo.instruction.ID, "beneficiary account closed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastParams.Status != domain.InstructionFailed {
		t.Fatalf("transition target = %q, want failed", repo.lastParams.Status)
	}
	if repo.lastParams.FailureReason == nil || *repo.lastParams.FailureReason != "beneficiary account closed" {
		t.Fatal("failure reason not recorded")
	}
	keys := events.keys()
	if len(keys) != 1 || keys[0] != domain.EventPayoutFailed {
		t.Fatalf("event keys = %v", keys)
	}
}

func TestMarkFailedRequiresReason(t *testing.T) {
	svc := newTestService(newPayoutStub(), nil, nil, nil)

	if err := svc.MarkFailed(context.Background(), uuid.New(), ""); !IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestDeferThenRequeue(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.transitionOK = true
	svc := newTestService(repo, nil, nil, nil)

	revisit := time.Now().Add(48 * time.Hour)
	if err := svc.DeferPayout(context.Background(), repo.instruction.ID, "beneficiary under dispute", &revisit); err != nil {
		t.Fatalf("defer: %v", err)
	}
	if repo.lastParams.Status != domain.InstructionDeferred {
		t.Fatalf("transition target = %q, want deferred", repo.lastParams.Status)
	}
	if repo.lastParams.DeferredUntil == nil || !repo.lastParams.DeferredUntil.Equal(revisit) {
		t.Fatal("deferred_until not recorded")
	}

	if err := svc.RequeueDeferred(context.Background(), repo.instruction.ID, "admin-7"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if repo.lastFromStatus != domain.InstructionDeferred {
		t.Fatalf("requeue precondition = %q, want deferred", repo.lastFromStatus)
	}
	if repo.lastParams.Status != domain.InstructionScheduled {
		t.Fatalf("requeue target = %q, want scheduled", repo.lastParams.Status)
	}
}

func TestRequeueRejectsNonDeferred(t *testing.T) {
	repo := newPayoutStub()
	repo.instruction = scheduledInstruction(repo)
	repo.transitionOK = false
	repo.transitionCurrent = domain.InstructionScheduled
	svc := newTestService(repo, nil, nil, nil)

	if err := svc.RequeueDeferred(context.Background(), repo.instruction.ID, "admin-7"); !IsConflict(err) {
		t.Fatalf("got %v, want conflict", err)
	}
}
