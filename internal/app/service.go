/**
 * @description
 * This file contains the core business logic of the pool engine. The
 * `Service` struct orchestrates the obligation ledger and collateral
 * accounts, coordinating the database repository, the treasury policy guard
 * and the event producer.
 *
 * Key features:
 * - Creates one obligation per active membership per scheduled cycle,
 *   idempotently.
 * - Settles obligations atomically with the locked-collateral credit.
 * - Applies contribution/collateral credit events behind the global credit
 *   kill-switch.
 * - Handles collateral unlock requests through the treasury guard.
 *
 * @dependencies
 * - internal/domain, internal/store: domain models and data access.
 * - internal/observability: engine metrics.
 * - pkg/rabbitmq: event publishing.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
	"github.com/hredostate/Togedaly-New-sub001/internal/observability"
	"github.com/hredostate/Togedaly-New-sub001/internal/store"
	"github.com/hredostate/Togedaly-New-sub001/pkg/rabbitmq"
)

// PenaltyPolicy controls the amount assessed on the grace -> penalty
// transition: a percentage of the missed contribution with a flat floor.
type PenaltyPolicy struct {
	Percent   float64
	FloorKobo int64
}

// Assess returns the penalty for a missed contribution.
func (p PenaltyPolicy) Assess(contributionDue int64) int64 {
	amount := int64(math.Round(float64(contributionDue) * p.Percent / 100))
	if amount < p.FloorKobo {
		amount = p.FloorKobo
	}
	return amount
}

// Service provides the core business logic of the pool engine.
type Service struct {
	repo     store.Repository
	events   rabbitmq.Publisher
	guard    *TreasuryGuard
	metrics  *observability.Metrics
	logger   *slog.Logger
	exchange string
	penalty  PenaltyPolicy

	// creditsBlocked reports the global credit kill-switch. Consulted only
	// here, at the credit-application point.
	creditsBlocked func() bool
}

// NewService creates the engine service.
func NewService(
	repo store.Repository,
	events rabbitmq.Publisher,
	guard *TreasuryGuard,
	metrics *observability.Metrics,
	logger *slog.Logger,
	exchange string,
	penalty PenaltyPolicy,
	creditsBlocked func() bool,
) *Service {
	if creditsBlocked == nil {
		creditsBlocked = func() bool { return false }
	}
	return &Service{
		repo:           repo,
		events:         events,
		guard:          guard,
		metrics:        metrics,
		logger:         logger,
		exchange:       exchange,
		penalty:        penalty,
		creditsBlocked: creditsBlocked,
	}
}

// Guard exposes the treasury policy guard for API handlers.
func (s *Service) Guard() *TreasuryGuard { return s.guard }

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, s.exchange, routingKey, body); err != nil {
		s.logger.Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}

// CreateObligationsForCycle creates one obligation per active membership of
// the cycle's pool, sizing collateral from the member's rotation slot.
// Idempotent per (pool, cycle, user): re-invocation skips existing rows and
// returns only the ids it created.
func (s *Service) CreateObligationsForCycle(ctx context.Context, poolID, cycleID uuid.UUID) ([]uuid.UUID, error) {
	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	cycle, err := s.repo.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle.PoolID != pool.ID {
		return nil, &ValidationError{Msg: fmt.Sprintf("cycle %s does not belong to pool %s", cycleID, poolID)}
	}

	members, err := s.repo.FindActiveMemberships(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("load active memberships: %w", err)
	}

	var created []uuid.UUID
	for _, m := range members {
		collateralDue, err := SizeCollateral(pool.BaseAmount, pool.CollateralRatio, m.RotationSlot, pool.TotalSlots)
		if err != nil {
			return nil, fmt.Errorf("size collateral for membership %s: %w", m.ID, err)
		}

		ob := &domain.Obligation{
			ID:              uuid.New(),
			PoolID:          poolID,
			UserID:          m.UserID,
			CycleID:         cycleID,
			ContributionDue: pool.BaseAmount,
			CollateralDue:   collateralDue,
		}
		inserted, err := s.repo.CreateObligationIdempotent(ctx, ob)
		if err != nil {
			return nil, fmt.Errorf("create obligation for user %s: %w", m.UserID, err)
		}
		if inserted {
			created = append(created, ob.ID)
			if s.metrics != nil {
				s.metrics.ObligationsCreated.Inc()
			}
		}
	}

	s.logger.Info("obligations created for cycle",
		"pool_id", poolID, "cycle_id", cycleID, "cycle_number", cycle.CycleNumber, "created", len(created), "members", len(members))
	return created, nil
}

// SettleObligation marks an obligation settled and credits the member's
// locked collateral atomically. Settling twice is a no-op, not an error. On
// a first settlement the member's default state is re-evaluated so a caught-up
// member returns to `none`.
func (s *Service) SettleObligation(ctx context.Context, obligationID uuid.UUID, settledAt time.Time) error {
	outcome, err := s.repo.SettleObligationAtomic(ctx, obligationID, settledAt)
	if err != nil {
		return err
	}
	if outcome.AlreadySettled {
		s.logger.Info("obligation already settled; no-op", "obligation_id", obligationID)
		return nil
	}

	ob, err := s.repo.GetObligation(ctx, obligationID)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ObligationsSettled.WithLabelValues(domain.SettlementPayment).Inc()
	}
	s.publish(ctx, domain.EventObligationSettled, domain.ObligationSettledEvent{
		ObligationID: obligationID,
		PoolID:       ob.PoolID,
		UserID:       ob.UserID,
		Via:          domain.SettlementPayment,
		SettledAt:    settledAt,
	})

	if err := s.resetStateIfCaughtUp(ctx, ob.PoolID, ob.UserID); err != nil {
		// Settlement already committed; state catch-up will be retried by
		// the next sweep.
		s.logger.Warn("default state reset after settlement failed", "obligation_id", obligationID, "error", err)
	}
	return nil
}

// ApplyCredit applies a contribution or collateral credit reported by the
// upstream ingestion service. The global credit kill-switch is consulted
// here and nowhere else.
func (s *Service) ApplyCredit(ctx context.Context, event domain.CreditEvent) error {
	if s.creditsBlocked() {
		if s.metrics != nil {
			s.metrics.CreditEventsBlocked.Inc()
		}
		s.logger.Warn("credit application blocked by global kill-switch",
			"pool_id", event.PoolID, "user_id", event.UserID, "obligation_id", event.ObligationID)
		return &PolicyRejection{Operation: "credit", Reason: "global credit kill-switch is active"}
	}
	if event.ObligationID == uuid.Nil {
		return &ValidationError{Msg: "credit event missing obligation id"}
	}

	settledAt := event.CreditedAt
	if settledAt.IsZero() {
		settledAt = time.Now().UTC()
	}
	if err := s.SettleObligation(ctx, event.ObligationID, settledAt); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.CreditEventsApplied.Inc()
	}
	return nil
}

// RequestUnlock moves locked collateral to the member's available balance.
// Eligibility requires the pool's minimum lock cycles to have elapsed since
// the last unlock, and the move is gated by the treasury policy guard.
func (s *Service) RequestUnlock(ctx context.Context, poolID, userID uuid.UUID, amount int64, currentCycle int) error {
	if amount <= 0 {
		return &ValidationError{Msg: fmt.Sprintf("unlock amount must be positive, got %d", amount)}
	}

	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return err
	}
	account, err := s.repo.GetCollateralAccount(ctx, poolID, userID)
	if err != nil {
		return err
	}
	if currentCycle-account.LastUnlockCycle < pool.MinLockCycles {
		return &ConflictError{
			Entity:       "collateral account",
			CurrentState: fmt.Sprintf("locked until cycle %d", account.LastUnlockCycle+pool.MinLockCycles),
		}
	}

	decision, err := s.guard.Authorize(ctx, domain.OperationUnlock, amount, poolID, userID.String())
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &PolicyRejection{Operation: domain.OperationUnlock, Reason: decision.Reason}
	}

	if err := s.repo.UnlockCollateralAtomic(ctx, poolID, userID, amount, currentCycle); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.CollateralUnlocked.Add(float64(amount))
	}
	s.publish(ctx, domain.EventCollateralUnlocked, domain.CollateralEvent{
		PoolID:    poolID,
		UserID:    userID,
		Amount:    amount,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// ListUnresolvedDeficits surfaces open collateral deficits for reporting.
func (s *Service) ListUnresolvedDeficits(ctx context.Context, poolID uuid.UUID) ([]domain.CollateralDeficit, error) {
	return s.repo.ListUnresolvedDeficits(ctx, poolID)
}

// ResetMissedCounter clears a membership's consecutive-missed counter. This
// is the explicit policy action; the state machine never clears it.
func (s *Service) ResetMissedCounter(ctx context.Context, membershipID uuid.UUID) error {
	return s.repo.ResetConsecutiveMissed(ctx, membershipID)
}

// JoinPool creates a membership with an immutable rotation slot. Joins are
// rejected once the pool is active.
func (s *Service) JoinPool(ctx context.Context, poolID, userID uuid.UUID, slot int) (*domain.Membership, error) {
	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if slot < 1 || slot > pool.TotalSlots {
		return nil, &ValidationError{Msg: fmt.Sprintf("rotation slot %d outside 1..%d", slot, pool.TotalSlots)}
	}

	m := &domain.Membership{
		ID:           uuid.New(),
		PoolID:       poolID,
		UserID:       userID,
		Status:       domain.MembershipActive,
		RotationSlot: slot,
		DefaultState: domain.DefaultStateNone,
	}
	if err := s.repo.CreateMembership(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ActivatePool starts a pool's rotation once every slot is taken. Slot
// indices must form a full permutation of 1..totalSlots; after activation
// the roster is frozen and joins are rejected.
func (s *Service) ActivatePool(ctx context.Context, poolID uuid.UUID) error {
	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return err
	}
	if pool.Active {
		return store.ErrPoolActive
	}

	members, err := s.repo.FindActiveMemberships(ctx, poolID)
	if err != nil {
		return fmt.Errorf("load active memberships: %w", err)
	}
	taken := make(map[int]bool, len(members))
	for _, m := range members {
		if m.RotationSlot < 1 || m.RotationSlot > pool.TotalSlots {
			return &ValidationError{Msg: fmt.Sprintf("membership %s holds slot %d outside 1..%d", m.ID, m.RotationSlot, pool.TotalSlots)}
		}
		if taken[m.RotationSlot] {
			return &ValidationError{Msg: fmt.Sprintf("rotation slot %d held by more than one active membership", m.RotationSlot)}
		}
		taken[m.RotationSlot] = true
	}
	if len(taken) != pool.TotalSlots {
		return &ValidationError{Msg: fmt.Sprintf("roster incomplete: %d of %d rotation slots assigned", len(taken), pool.TotalSlots)}
	}

	ok, err := s.repo.ActivatePool(ctx, poolID)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent activation won, or the roster changed underneath us.
		return &ConflictError{Entity: "pool", CurrentState: "not activatable"}
	}

	s.publish(ctx, domain.EventPoolActivated, domain.PoolActivatedEvent{
		PoolID:      poolID,
		TotalSlots:  pool.TotalSlots,
		ActivatedAt: time.Now().UTC(),
	})
	s.logger.Info("pool activated", "pool_id", poolID, "total_slots", pool.TotalSlots)
	return nil
}
