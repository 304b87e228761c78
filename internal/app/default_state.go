/**
 * @description
 * The default state machine. A membership moves none -> grace -> penalty ->
 * collateral_drawdown as an obligation stays unsettled past its due date,
 * and returns to none once the member has caught up. The machine advances at
 * most one step per evaluation; the due-date sweep evaluates each delinquent
 * membership once per run.
 *
 * @notes
 * - consecutive_missed is a lifetime counter: incremented on grace -> penalty,
 *   reset only by the explicit policy endpoint.
 * - Drawdown is involuntary and internal to the pool, so it does not consult
 *   the treasury kill-switches, but it never drives the locked balance
 *   negative; a shortfall becomes a recorded deficit.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
	"github.com/hredostate/Togedaly-New-sub001/internal/store"
)

// EvaluateDefaultState advances a membership's default state based on its
// overdue obligations as of the given instant, and returns the state the
// membership is in afterwards.
func (s *Service) EvaluateDefaultState(ctx context.Context, membershipID uuid.UUID, asOf time.Time) (string, error) {
	m, err := s.repo.GetMembership(ctx, membershipID)
	if err != nil {
		return "", err
	}
	pool, err := s.repo.GetPool(ctx, m.PoolID)
	if err != nil {
		return "", err
	}

	overdue, err := s.repo.FindOverdueObligations(ctx, m.PoolID, m.UserID, asOf)
	if err != nil {
		return "", fmt.Errorf("load overdue obligations: %w", err)
	}

	if len(overdue) == 0 {
		if m.DefaultState != domain.DefaultStateNone {
			if err := s.transitionState(ctx, m, m.DefaultState, domain.DefaultStateNone, asOf); err != nil {
				return "", err
			}
		}
		return domain.DefaultStateNone, nil
	}

	oldest := overdue[0]
	graceDeadline := oldest.DueDate.Add(time.Duration(pool.GracePeriodDays) * 24 * time.Hour)

	switch m.DefaultState {
	case domain.DefaultStateNone:
		if err := s.transitionState(ctx, m, domain.DefaultStateNone, domain.DefaultStateGrace, asOf); err != nil {
			return "", err
		}
		return domain.DefaultStateGrace, nil

	case domain.DefaultStateGrace:
		if asOf.Before(graceDeadline) {
			return domain.DefaultStateGrace, nil
		}
		if err := s.transitionState(ctx, m, domain.DefaultStateGrace, domain.DefaultStatePenalty, asOf); err != nil {
			return "", err
		}
		missed, err := s.repo.IncrementConsecutiveMissed(ctx, m.ID)
		if err != nil {
			return "", fmt.Errorf("increment missed counter: %w", err)
		}
		penalty := &domain.Penalty{
			ID:           uuid.New(),
			PoolID:       m.PoolID,
			MembershipID: m.ID,
			CycleID:      oldest.Obligation.CycleID,
			Amount:       s.penalty.Assess(oldest.Obligation.ContributionDue),
			AssessedAt:   asOf,
		}
		if err := s.repo.CreatePenalty(ctx, penalty); err != nil {
			return "", fmt.Errorf("record penalty: %w", err)
		}
		s.logger.Info("penalty assessed",
			"membership_id", m.ID, "cycle_id", oldest.Obligation.CycleID,
			"amount", penalty.Amount, "consecutive_missed", missed)
		return domain.DefaultStatePenalty, nil

	case domain.DefaultStatePenalty:
		if err := s.transitionState(ctx, m, domain.DefaultStatePenalty, domain.DefaultStateDrawdown, asOf); err != nil {
			return "", err
		}
		if err := s.executeDrawdown(ctx, m, oldest.Obligation, asOf); err != nil {
			return "", err
		}
		// The drawdown settles the obligation; if nothing else is open the
		// member is caught up again.
		if err := s.resetStateIfCaughtUp(ctx, m.PoolID, m.UserID); err != nil {
			return "", err
		}
		current, err := s.repo.GetMembership(ctx, membershipID)
		if err != nil {
			return "", err
		}
		return current.DefaultState, nil

	case domain.DefaultStateDrawdown:
		// Still delinquent after a drawdown: remaining overdue obligations
		// are worked off one per evaluation.
		if err := s.executeDrawdown(ctx, m, oldest.Obligation, asOf); err != nil {
			return "", err
		}
		if err := s.resetStateIfCaughtUp(ctx, m.PoolID, m.UserID); err != nil {
			return "", err
		}
		current, err := s.repo.GetMembership(ctx, membershipID)
		if err != nil {
			return "", err
		}
		return current.DefaultState, nil

	default:
		return "", fmt.Errorf("membership %s in unknown default state %q", m.ID, m.DefaultState)
	}
}

func (s *Service) transitionState(ctx context.Context, m *domain.Membership, from, to string, at time.Time) error {
	ok, err := s.repo.TransitionDefaultState(ctx, m.ID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent evaluation won the transition; treat as done.
		s.logger.Info("default state transition lost race", "membership_id", m.ID, "from", from, "to", to)
		return nil
	}

	if s.metrics != nil {
		s.metrics.StateTransitions.WithLabelValues(from, to).Inc()
	}
	s.publish(ctx, domain.EventMemberStateChanged, domain.MemberStateChangedEvent{
		MembershipID: m.ID,
		PoolID:       m.PoolID,
		UserID:       m.UserID,
		FromState:    from,
		ToState:      to,
		ChangedAt:    at,
	})
	return nil
}

// executeDrawdown settles an overdue obligation from locked collateral,
// recording a deficit when the balance cannot cover the dues.
func (s *Service) executeDrawdown(ctx context.Context, m *domain.Membership, ob domain.Obligation, asOf time.Time) error {
	outcome, err := s.repo.DrawdownObligationAtomic(ctx, ob.ID, asOf)
	if err != nil {
		return fmt.Errorf("drawdown obligation %s: %w", ob.ID, err)
	}
	if outcome.AlreadySettled {
		return nil
	}

	if s.metrics != nil {
		s.metrics.Drawdowns.Inc()
		s.metrics.ObligationsSettled.WithLabelValues(domain.SettlementDrawdown).Inc()
	}
	s.publish(ctx, domain.EventCollateralDrawdown, domain.CollateralEvent{
		PoolID:       m.PoolID,
		UserID:       m.UserID,
		ObligationID: ob.ID,
		Amount:       outcome.Drawn,
		Timestamp:    asOf,
	})

	if outcome.Deficit > 0 {
		if s.metrics != nil {
			s.metrics.DeficitsRecorded.Inc()
			s.metrics.DeficitAmount.Add(float64(outcome.Deficit))
		}
		s.logger.Error("collateral drawdown left a deficit",
			"membership_id", m.ID, "obligation_id", ob.ID, "drawn", outcome.Drawn, "deficit", outcome.Deficit)
		s.publish(ctx, domain.EventCollateralDeficit, domain.CollateralEvent{
			PoolID:       m.PoolID,
			UserID:       m.UserID,
			ObligationID: ob.ID,
			Amount:       outcome.Deficit,
			Timestamp:    asOf,
		})
	}
	return nil
}

// resetStateIfCaughtUp returns a member to `none` once every obligation is
// settled. The missed counter is left untouched.
func (s *Service) resetStateIfCaughtUp(ctx context.Context, poolID, userID uuid.UUID) error {
	open, err := s.repo.CountUnsettledObligations(ctx, poolID, userID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}

	m, err := s.repo.FindMembershipByPoolUser(ctx, poolID, userID)
	if err != nil {
		if err == store.ErrMembershipNotFound {
			return nil
		}
		return err
	}
	if m.DefaultState == domain.DefaultStateNone {
		return nil
	}
	return s.transitionState(ctx, m, m.DefaultState, domain.DefaultStateNone, time.Now().UTC())
}
