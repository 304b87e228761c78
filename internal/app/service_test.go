package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
	"github.com/hredostate/Togedaly-New-sub001/internal/store"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	events []capturedEvent
}

type capturedEvent struct {
	routingKey string
	body       []byte
}

func (p *capturePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	p.events = append(p.events, capturedEvent{routingKey: routingKey, body: raw})
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) keys() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.routingKey)
	}
	return out
}

func newTestService(repo store.Repository, guard *TreasuryGuard, events *capturePublisher, creditsBlocked func() bool) *Service {
	policy := PenaltyPolicy{Percent: 5, FloorKobo: 10_000}
	if events == nil {
		return NewService(repo, nil, guard, nil, testLogger(), "togedaly.pool.events", policy, creditsBlocked)
	}
	return NewService(repo, events, guard, nil, testLogger(), "togedaly.pool.events", policy, creditsBlocked)
}

type obligationRepoStub struct {
	store.Repository

	pool    *domain.Pool
	cycle   *domain.PoolCycle
	members []domain.Membership

	existing map[uuid.UUID]bool // user id -> obligation already present
	inserted []*domain.Obligation
}

func (s *obligationRepoStub) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error) {
	return s.pool, nil
}

func (s *obligationRepoStub) GetCycle(ctx context.Context, cycleID uuid.UUID) (*domain.PoolCycle, error) {
	return s.cycle, nil
}

func (s *obligationRepoStub) FindActiveMemberships(ctx context.Context, poolID uuid.UUID) ([]domain.Membership, error) {
	return s.members, nil
}

func (s *obligationRepoStub) CreateObligationIdempotent(ctx context.Context, ob *domain.Obligation) (bool, error) {
	if s.existing[ob.UserID] {
		return false, nil
	}
	s.inserted = append(s.inserted, ob)
	return true, nil
}

func poolOf4() *domain.Pool {
	return &domain.Pool{
		ID:              uuid.New(),
		Name:            "market women circle",
		Currency:        "NGN",
		BaseAmount:      20_000,
		Frequency:       domain.FrequencyWeekly,
		CollateralRatio: 0.5,
		GracePeriodDays: 3,
		TotalSlots:      4,
		Active:          true,
	}
}

func TestCreateObligationsSizesCollateralBySlot(t *testing.T) {
	pool := poolOf4()
	cycle := &domain.PoolCycle{ID: uuid.New(), PoolID: pool.ID, CycleNumber: 1}
	repo := &obligationRepoStub{pool: pool, cycle: cycle, existing: map[uuid.UUID]bool{}}
	for slot := 1; slot <= 4; slot++ {
		repo.members = append(repo.members, domain.Membership{
			ID: uuid.New(), PoolID: pool.ID, UserID: uuid.New(), RotationSlot: slot, Status: domain.MembershipActive,
		})
	}
	svc := newTestService(repo, nil, nil, nil)

	created, err := svc.CreateObligationsForCycle(context.Background(), pool.ID, cycle.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("created %d obligations, want 4", len(created))
	}

	wantCollateral := []int64{10_000, 6_667, 3_333, 0}
	for i, ob := range repo.inserted {
		if ob.ContributionDue != pool.BaseAmount {
			t.Errorf("slot %d: contribution_due = %d, want %d", i+1, ob.ContributionDue, pool.BaseAmount)
		}
		if ob.CollateralDue != wantCollateral[i] {
			t.Errorf("slot %d: collateral_due = %d, want %d", i+1, ob.CollateralDue, wantCollateral[i])
		}
	}
}

func TestCreateObligationsReplaySkipsExisting(t *testing.T) {
	pool := poolOf4()
	cycle := &domain.PoolCycle{ID: uuid.New(), PoolID: pool.ID, CycleNumber: 2}
	repo := &obligationRepoStub{pool: pool, cycle: cycle, existing: map[uuid.UUID]bool{}}
	for slot := 1; slot <= 4; slot++ {
		m := domain.Membership{ID: uuid.New(), PoolID: pool.ID, UserID: uuid.New(), RotationSlot: slot, Status: domain.MembershipActive}
		repo.members = append(repo.members, m)
		if slot <= 2 {
			repo.existing[m.UserID] = true
		}
	}
	svc := newTestService(repo, nil, nil, nil)

	created, err := svc.CreateObligationsForCycle(context.Background(), pool.ID, cycle.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("replay created %d obligations, want 2", len(created))
	}
}

func TestCreateObligationsRejectsForeignCycle(t *testing.T) {
	pool := poolOf4()
	cycle := &domain.PoolCycle{ID: uuid.New(), PoolID: uuid.New(), CycleNumber: 1}
	repo := &obligationRepoStub{pool: pool, cycle: cycle}
	svc := newTestService(repo, nil, nil, nil)

	if _, err := svc.CreateObligationsForCycle(context.Background(), pool.ID, cycle.ID); !IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

type settleRepoStub struct {
	store.Repository

	outcome    *store.SettleOutcome
	obligation *domain.Obligation
	openCount  int
	membership *domain.Membership

	transitions []string
	settleCalls int
}

func (s *settleRepoStub) SettleObligationAtomic(ctx context.Context, obligationID uuid.UUID, settledAt time.Time) (*store.SettleOutcome, error) {
	s.settleCalls++
	return s.outcome, nil
}

func (s *settleRepoStub) GetObligation(ctx context.Context, obligationID uuid.UUID) (*domain.Obligation, error) {
	return s.obligation, nil
}

func (s *settleRepoStub) CountUnsettledObligations(ctx context.Context, poolID, userID uuid.UUID) (int, error) {
	return s.openCount, nil
}

func (s *settleRepoStub) FindMembershipByPoolUser(ctx context.Context, poolID, userID uuid.UUID) (*domain.Membership, error) {
	return s.membership, nil
}

func (s *settleRepoStub) TransitionDefaultState(ctx context.Context, membershipID uuid.UUID, fromState, toState string) (bool, error) {
	s.transitions = append(s.transitions, fromState+"->"+toState)
	return true, nil
}

func TestSettleObligationDuplicateIsNoOp(t *testing.T) {
	repo := &settleRepoStub{outcome: &store.SettleOutcome{AlreadySettled: true}}
	events := &capturePublisher{}
	svc := newTestService(repo, nil, events, nil)

	if err := svc.SettleObligation(context.Background(), uuid.New(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events.events) != 0 {
		t.Fatalf("duplicate settlement published %d events, want 0", len(events.events))
	}
	if len(repo.transitions) != 0 {
		t.Fatalf("duplicate settlement touched default state: %v", repo.transitions)
	}
}

func TestSettleObligationResetsStateWhenCaughtUp(t *testing.T) {
	ob := &domain.Obligation{ID: uuid.New(), PoolID: uuid.New(), UserID: uuid.New()}
	repo := &settleRepoStub{
		outcome:    &store.SettleOutcome{ContributionDue: 20_000, CollateralDue: 10_000},
		obligation: ob,
		openCount:  0,
		membership: &domain.Membership{ID: uuid.New(), PoolID: ob.PoolID, UserID: ob.UserID, DefaultState: domain.DefaultStateGrace},
	}
	events := &capturePublisher{}
	svc := newTestService(repo, nil, events, nil)

	if err := svc.SettleObligation(context.Background(), ob.ID, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.transitions) != 1 || repo.transitions[0] != "grace->none" {
		t.Fatalf("transitions = %v, want [grace->none]", repo.transitions)
	}
	keys := events.keys()
	if len(keys) == 0 || keys[0] != domain.EventObligationSettled {
		t.Fatalf("event keys = %v, want settled event first", keys)
	}
}

func TestSettleObligationLeavesStateWhileStillOwing(t *testing.T) {
	ob := &domain.Obligation{ID: uuid.New(), PoolID: uuid.New(), UserID: uuid.New()}
	repo := &settleRepoStub{
		outcome:    &store.SettleOutcome{ContributionDue: 20_000},
		obligation: ob,
		openCount:  2,
	}
	svc := newTestService(repo, nil, nil, nil)

	if err := svc.SettleObligation(context.Background(), ob.ID, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.transitions) != 0 {
		t.Fatalf("state reset despite open obligations: %v", repo.transitions)
	}
}

func TestApplyCreditBlockedByKillSwitch(t *testing.T) {
	repo := &settleRepoStub{}
	svc := newTestService(repo, nil, nil, func() bool { return true })

	err := svc.ApplyCredit(context.Background(), domain.CreditEvent{ObligationID: uuid.New(), Amount: 20_000})
	if !IsPolicyRejection(err) {
		t.Fatalf("got %v, want policy rejection", err)
	}
	if repo.settleCalls != 0 {
		t.Fatal("blocked credit still reached settlement")
	}
}

func TestApplyCreditRequiresObligationID(t *testing.T) {
	svc := newTestService(&settleRepoStub{}, nil, nil, nil)

	err := svc.ApplyCredit(context.Background(), domain.CreditEvent{Amount: 20_000})
	if !IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

type unlockRepoStub struct {
	guardRepoStub

	pool    *domain.Pool
	account *domain.CollateralAccount

	unlockCalls int
	unlockedAmt int64
}

func (s *unlockRepoStub) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error) {
	return s.pool, nil
}

func (s *unlockRepoStub) GetCollateralAccount(ctx context.Context, poolID, userID uuid.UUID) (*domain.CollateralAccount, error) {
	return s.account, nil
}

func (s *unlockRepoStub) UnlockCollateralAtomic(ctx context.Context, poolID, userID uuid.UUID, amount int64, cycleNumber int) error {
	s.unlockCalls++
	s.unlockedAmt = amount
	return nil
}

func TestRequestUnlockBeforeMinLockCycles(t *testing.T) {
	pool := poolOf4()
	pool.MinLockCycles = 3
	repo := &unlockRepoStub{
		pool:    pool,
		account: &domain.CollateralAccount{LockedAmount: 50_000, LastUnlockCycle: 2},
	}
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	svc := newTestService(repo, guard, nil, nil)

	err := svc.RequestUnlock(context.Background(), pool.ID, uuid.New(), 10_000, 4)
	if !IsConflict(err) {
		t.Fatalf("got %v, want conflict", err)
	}
	if repo.unlockCalls != 0 {
		t.Fatal("ineligible unlock reached the store")
	}
}

func TestRequestUnlockGoesThroughGuard(t *testing.T) {
	pool := poolOf4()
	pool.MinLockCycles = 3
	repo := &unlockRepoStub{
		pool:    pool,
		account: &domain.CollateralAccount{LockedAmount: 50_000, LastUnlockCycle: 0},
	}
	repo.guardRepoStub.policy = permissivePolicy()
	repo.guardRepoStub.policy.KillUnlocks = true
	repo.guardRepoStub.locked = 50_000
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	svc := newTestService(repo, guard, nil, nil)

	err := svc.RequestUnlock(context.Background(), pool.ID, uuid.New(), 10_000, 4)
	if !IsPolicyRejection(err) {
		t.Fatalf("got %v, want policy rejection from kill-switch", err)
	}
	if repo.unlockCalls != 0 {
		t.Fatal("killed unlock reached the store")
	}
}

func TestRequestUnlockSucceeds(t *testing.T) {
	pool := poolOf4()
	pool.MinLockCycles = 3
	repo := &unlockRepoStub{
		pool:    pool,
		account: &domain.CollateralAccount{LockedAmount: 50_000, LastUnlockCycle: 0},
	}
	repo.guardRepoStub.policy = permissivePolicy()
	repo.guardRepoStub.locked = 50_000
	guard := NewTreasuryGuard(repo, nil, nil, testLogger())
	events := &capturePublisher{}
	svc := newTestService(repo, guard, events, nil)

	if err := svc.RequestUnlock(context.Background(), pool.ID, uuid.New(), 10_000, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.unlockCalls != 1 || repo.unlockedAmt != 10_000 {
		t.Fatalf("unlock calls = %d amount = %d", repo.unlockCalls, repo.unlockedAmt)
	}
	keys := events.keys()
	if len(keys) != 1 || keys[0] != domain.EventCollateralUnlocked {
		t.Fatalf("event keys = %v", keys)
	}
}

type joinRepoStub struct {
	store.Repository
	pool      *domain.Pool
	createErr error
	created   *domain.Membership
}

func (s *joinRepoStub) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error) {
	return s.pool, nil
}

func (s *joinRepoStub) CreateMembership(ctx context.Context, m *domain.Membership) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = m
	return nil
}

func TestJoinPoolValidatesSlotRange(t *testing.T) {
	pool := poolOf4()
	pool.Active = false
	svc := newTestService(&joinRepoStub{pool: pool}, nil, nil, nil)

	if _, err := svc.JoinPool(context.Background(), pool.ID, uuid.New(), 5); !IsValidation(err) {
		t.Fatalf("slot 5 of 4: got %v, want validation error", err)
	}
	if _, err := svc.JoinPool(context.Background(), pool.ID, uuid.New(), 0); !IsValidation(err) {
		t.Fatalf("slot 0: got %v, want validation error", err)
	}
}

func TestJoinPoolSurfacesSlotConflict(t *testing.T) {
	pool := poolOf4()
	pool.Active = false
	repo := &joinRepoStub{pool: pool, createErr: store.ErrSlotTaken}
	svc := newTestService(repo, nil, nil, nil)

	if _, err := svc.JoinPool(context.Background(), pool.ID, uuid.New(), 2); !errors.Is(err, store.ErrSlotTaken) {
		t.Fatalf("got %v, want ErrSlotTaken", err)
	}
}

type activateRepoStub struct {
	store.Repository
	pool       *domain.Pool
	members    []domain.Membership
	activateOK bool
	activated  bool
}

func (s *activateRepoStub) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error) {
	return s.pool, nil
}

func (s *activateRepoStub) FindActiveMemberships(ctx context.Context, poolID uuid.UUID) ([]domain.Membership, error) {
	return s.members, nil
}

func (s *activateRepoStub) ActivatePool(ctx context.Context, poolID uuid.UUID) (bool, error) {
	if !s.activateOK {
		return false, nil
	}
	s.activated = true
	s.pool.Active = true
	return true, nil
}

func rosterOf(pool *domain.Pool, slots ...int) []domain.Membership {
	members := make([]domain.Membership, 0, len(slots))
	for _, slot := range slots {
		members = append(members, domain.Membership{
			ID:           uuid.New(),
			PoolID:       pool.ID,
			UserID:       uuid.New(),
			RotationSlot: slot,
			Status:       domain.MembershipActive,
		})
	}
	return members
}

func TestActivatePoolWithFullRoster(t *testing.T) {
	pool := poolOf4()
	pool.Active = false
	repo := &activateRepoStub{pool: pool, members: rosterOf(pool, 1, 2, 3, 4), activateOK: true}
	events := &capturePublisher{}
	svc := newTestService(repo, nil, events, nil)

	if err := svc.ActivatePool(context.Background(), pool.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.activated {
		t.Fatal("pool was not activated")
	}
	keys := events.keys()
	if len(keys) != 1 || keys[0] != domain.EventPoolActivated {
		t.Fatalf("event keys = %v", keys)
	}
}

func TestActivatePoolRejectsIncompleteRoster(t *testing.T) {
	pool := poolOf4()
	pool.Active = false
	repo := &activateRepoStub{pool: pool, members: rosterOf(pool, 1, 2, 4), activateOK: true}
	svc := newTestService(repo, nil, nil, nil)

	if err := svc.ActivatePool(context.Background(), pool.ID); !IsValidation(err) {
		t.Fatalf("3 of 4 slots: got %v, want validation error", err)
	}
	if repo.activated {
		t.Fatal("incomplete roster still activated the pool")
	}
}

func TestActivatePoolRejectsDuplicateSlot(t *testing.T) {
	pool := poolOf4()
	pool.Active = false
	repo := &activateRepoStub{pool: pool, members: rosterOf(pool, 1, 2, 2, 4), activateOK: true}
	svc := newTestService(repo, nil, nil, nil)

	if err := svc.ActivatePool(context.Background(), pool.ID); !IsValidation(err) {
		t.Fatalf("duplicate slot: got %v, want validation error", err)
	}
}

func TestActivatePoolRejectsAlreadyActive(t *testing.T) {
	pool := poolOf4()
	repo := &activateRepoStub{pool: pool, members: rosterOf(pool, 1, 2, 3, 4), activateOK: true}
	svc := newTestService(repo, nil, nil, nil)

	if err := svc.ActivatePool(context.Background(), pool.ID); !errors.Is(err, store.ErrPoolActive) {
		t.Fatalf("got %v, want ErrPoolActive", err)
	}
}

func TestActivatePoolLostRaceIsConflict(t *testing.T) {
	pool := poolOf4()
	pool.Active = false
	repo := &activateRepoStub{pool: pool, members: rosterOf(pool, 1, 2, 3, 4), activateOK: false}
	svc := newTestService(repo, nil, nil, nil)

	if err := svc.ActivatePool(context.Background(), pool.ID); !IsConflict(err) {
		t.Fatalf("got %v, want conflict", err)
	}
}
