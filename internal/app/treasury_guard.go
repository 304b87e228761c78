/**
 * @description
 * The treasury policy guard is the single chokepoint for all outbound money
 * movement: payouts, collateral unlocks and refinance draws all pass through
 * Authorize before any state is written. It enforces kill-switches, rolling
 * 24h ceilings and the pool's computed draw capacity, and always explains a
 * rejection with a reason an operator can act on.
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
)

// CeilingWindow is the rolling window the daily ceilings are tracked over.
const CeilingWindow = 24 * time.Hour

// Ceiling scope for pool-wide (org) sums; per-user sums use the user id.
const orgCeilingSubject = "org"

// TreasuryGuard computes draw capacity and authorizes outbound operations.
type TreasuryGuard struct {
	repo     store.Repository
	ceilings CeilingTracker
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewTreasuryGuard creates a guard. ceilings may be nil when Redis is not
// configured, in which case every ceiling check fails closed.
func NewTreasuryGuard(repo store.Repository, ceilings CeilingTracker, metrics *observability.Metrics, logger *slog.Logger) *TreasuryGuard {
	return &TreasuryGuard{repo: repo, ceilings: ceilings, metrics: metrics, logger: logger}
}

// CapacityFromPosition computes draw capacity from a liquidity position:
// locked collateral less the reserve and volatility carve-outs, near-term
// dues and pending draws. The result may be negative, meaning no further
// draws, payments or unlocks are permitted.
func CapacityFromPosition(pos domain.LiquidityPosition) int64 {
	reserve := int64(math.Round(float64(pos.TotalLocked) * pos.MinReserveFrac))
	buffer := int64(math.Round(float64(pos.TotalLocked) * pos.VolatilityBuffer))
	return pos.TotalLocked - reserve - buffer - pos.Next14DaysDue - pos.PendingDraws
}

// ComputeLiquidityPosition derives a pool's liquidity position on demand; it
// is never stored as ground truth.
func (g *TreasuryGuard) ComputeLiquidityPosition(ctx context.Context, poolID uuid.UUID) (*domain.LiquidityPosition, error) {
	return g.liquidityPosition(ctx, poolID, uuid.Nil)
}

func (g *TreasuryGuard) liquidityPosition(ctx context.Context, poolID, excludeInstruction uuid.UUID) (*domain.LiquidityPosition, error) {
	policy, err := g.repo.GetLatestApprovedPolicy(ctx, poolID)
	if err != nil {
		return nil, err
	}

	totalLocked, err := g.repo.SumLockedCollateral(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("sum locked collateral: %w", err)
	}

	now := time.Now().UTC()
	nextDue, err := g.repo.SumObligationsDueWithin(ctx, poolID, now, now.Add(14*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("sum near-term dues: %w", err)
	}

	pendingDraws, err := g.repo.SumPendingDraws(ctx, poolID, excludeInstruction)
	if err != nil {
		return nil, fmt.Errorf("sum pending draws: %w", err)
	}

	return &domain.LiquidityPosition{
		PoolID:           poolID,
		TotalLocked:      totalLocked,
		VolatilityBuffer: policy.VolatilityBuffer,
		MinReserveFrac:   policy.MinReserveFrac,
		Next14DaysDue:    nextDue,
		PendingDraws:     pendingDraws,
		ComputedAt:       now,
	}, nil
}

// ComputeDrawCapacity returns the pool's current draw capacity in kobo.
func (g *TreasuryGuard) ComputeDrawCapacity(ctx context.Context, poolID uuid.UUID) (int64, error) {
	pos, err := g.ComputeLiquidityPosition(ctx, poolID)
	if err != nil {
		return 0, err
	}
	return CapacityFromPosition(*pos), nil
}

// Authorize checks an outbound operation against the pool's treasury policy.
// A decision with Allowed=false always carries a reason. Errors are reserved
// for store failures; an unavailable ceiling tracker fails closed with a
// rejection, never an unmetered pass.
func (g *TreasuryGuard) Authorize(ctx context.Context, operation string, amount int64, poolID uuid.UUID, actor string) (*domain.AuthorizationDecision, error) {
	return g.authorize(ctx, operation, amount, poolID, actor, uuid.Nil)
}

// AuthorizeRelease authorizes releasing an already scheduled payout
// instruction. The instruction's own amount sits in pending draws, so it is
// excluded from the capacity computation; without that, releasing a payout
// would need double headroom.
func (g *TreasuryGuard) AuthorizeRelease(ctx context.Context, operation string, amount int64, poolID uuid.UUID, actor string, instructionID uuid.UUID) (*domain.AuthorizationDecision, error) {
	return g.authorize(ctx, operation, amount, poolID, actor, instructionID)
}

func (g *TreasuryGuard) authorize(ctx context.Context, operation string, amount int64, poolID uuid.UUID, actor string, excludeInstruction uuid.UUID) (*domain.AuthorizationDecision, error) {
	if amount <= 0 {
		return nil, &ValidationError{Msg: fmt.Sprintf("authorization amount must be positive, got %d", amount)}
	}

	policy, err := g.repo.GetLatestApprovedPolicy(ctx, poolID)
	if err != nil {
		if err == store.ErrPolicyNotFound {
			return g.reject(operation, "no approved treasury policy for pool"), nil
		}
		return nil, err
	}

	switch operation {
	case domain.OperationDraw:
		if policy.KillDraws {
			return g.reject(operation, "draws are disabled by kill-switch"), nil
		}
	case domain.OperationUnlock:
		if policy.KillUnlocks {
			return g.reject(operation, "unlocks are disabled by kill-switch"), nil
		}
	case domain.OperationPayment:
		if policy.KillPayments {
			return g.reject(operation, "payments are disabled by kill-switch"), nil
		}
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown treasury operation %q", operation)}
	}

	pos, err := g.liquidityPosition(ctx, poolID, excludeInstruction)
	if err != nil {
		return nil, err
	}

	if policy.MaxDrawFraction > 0 {
		maxDraw := int64(math.Round(float64(pos.TotalLocked) * policy.MaxDrawFraction))
		if amount > maxDraw {
			return g.reject(operation, fmt.Sprintf(
				"amount %d exceeds max draw fraction (%d of %d locked)", amount, maxDraw, pos.TotalLocked)), nil
		}
	}

	capacity := CapacityFromPosition(*pos)
	if amount > capacity {
		return g.reject(operation, fmt.Sprintf("amount %d exceeds draw capacity %d", amount, capacity)), nil
	}

	// Ceilings last: passing them records the outflow against the rolling
	// window, so nothing should be consumed for a request that was going to
	// fail a cheaper check anyway.
	if policy.UserDailyCeiling > 0 || policy.OrgDailyCeiling > 0 {
		if g.ceilings == nil {
			return g.reject(operation, "ceiling tracker unavailable; failing closed"), nil
		}

		userScope := fmt.Sprintf("%s:user:%s", operation, poolID)
		allowed, total, err := g.ceilings.ConsumeCeiling(ctx, userScope, actor, amount, policy.UserDailyCeiling, CeilingWindow)
		if err != nil {
			g.logger.Error("user ceiling check failed; failing closed", "pool_id", poolID, "actor", actor, "error", err)
			return g.reject(operation, "ceiling check unavailable; failing closed"), nil
		}
		if !allowed {
			return g.reject(operation, fmt.Sprintf(
				"per-user daily ceiling exceeded: %d already moved in the trailing 24h, ceiling %d", total, policy.UserDailyCeiling)), nil
		}

		orgScope := fmt.Sprintf("%s:org:%s", operation, poolID)
		allowed, total, err = g.ceilings.ConsumeCeiling(ctx, orgScope, orgCeilingSubject, amount, policy.OrgDailyCeiling, CeilingWindow)
		if err != nil {
			g.logger.Error("org ceiling check failed; failing closed", "pool_id", poolID, "error", err)
			return g.reject(operation, "ceiling check unavailable; failing closed"), nil
		}
		if !allowed {
			return g.reject(operation, fmt.Sprintf(
				"per-org daily ceiling exceeded: %d already moved in the trailing 24h, ceiling %d", total, policy.OrgDailyCeiling)), nil
		}
	}

	return &domain.AuthorizationDecision{Allowed: true}, nil
}

func (g *TreasuryGuard) reject(operation, reason string) *domain.AuthorizationDecision {
	if g.metrics != nil {
		g.metrics.PolicyRejections.WithLabelValues(operation).Inc()
	}
	g.logger.Warn("treasury policy rejection", "operation", operation, "reason", reason)
	return &domain.AuthorizationDecision{Allowed: false, Reason: reason}
}
