/**
 * @description
 * Background jobs driven by the cron scheduler: the due-date sweep that
 * advances member default states, payout run materialization for cycles
 * whose due date has arrived, and the deferred-payout revisit report.
 */

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hredostate/Togedaly-New-sub001/internal/observability"
	"github.com/hredostate/Togedaly-New-sub001/internal/store"
)

// Jobs holds the dependencies for the scheduled jobs.
type Jobs struct {
	service *Service
	repo    store.Repository
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewJobs(service *Service, repo store.Repository, metrics *observability.Metrics, logger *slog.Logger) *Jobs {
	return &Jobs{service: service, repo: repo, metrics: metrics, logger: logger}
}

// RunDueDateSweep evaluates the default state of every member with an
// unsettled obligation on a past-due cycle. Evaluation is per member and
// idempotent, so a sweep that dies mid-way is simply finished by the next
// one.
func (j *Jobs) RunDueDateSweep() {
	ctx := context.Background()
	start := time.Now()
	asOf := start.UTC()

	cycles, err := j.repo.FindCyclesDueBefore(ctx, asOf)
	if err != nil {
		j.logger.Error("due-date sweep: listing due cycles failed", "error", err)
		return
	}

	type memberKey struct {
		poolID uuid.UUID
		userID uuid.UUID
	}
	seen := make(map[memberKey]struct{})
	evaluated := 0

	for _, cycle := range cycles {
		obligations, err := j.repo.FindUnsettledObligationsForCycle(ctx, cycle.ID)
		if err != nil {
			j.logger.Error("due-date sweep: listing unsettled obligations failed", "cycle_id", cycle.ID, "error", err)
			continue
		}
		for _, ob := range obligations {
			key := memberKey{poolID: ob.PoolID, userID: ob.UserID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			membership, err := j.repo.FindMembershipByPoolUser(ctx, ob.PoolID, ob.UserID)
			if err != nil {
				j.logger.Error("due-date sweep: membership lookup failed", "pool_id", ob.PoolID, "user_id", ob.UserID, "error", err)
				continue
			}
			state, err := j.service.EvaluateDefaultState(ctx, membership.ID, asOf)
			if err != nil {
				j.logger.Error("due-date sweep: evaluation failed", "membership_id", membership.ID, "error", err)
				continue
			}
			evaluated++
			j.logger.Debug("due-date sweep evaluated member", "membership_id", membership.ID, "state", state)
		}
	}

	if j.metrics != nil {
		j.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	j.logger.Info("due-date sweep complete", "cycles", len(cycles), "members_evaluated", evaluated, "duration", time.Since(start))
}

// RunPayoutMaterialization generates the payout run for every cycle whose
// due date has passed. Generation is idempotent, so cycles that already
// have a run are counted and skipped.
func (j *Jobs) RunPayoutMaterialization() {
	ctx := context.Background()
	asOf := time.Now().UTC()

	cycles, err := j.repo.FindCyclesDueBefore(ctx, asOf)
	if err != nil {
		j.logger.Error("payout materialization: listing due cycles failed", "error", err)
		return
	}

	generated, existing := 0, 0
	for _, cycle := range cycles {
		result, err := j.service.GenerateRun(ctx, cycle.PoolID, cycle.ID, "scheduler")
		if err != nil {
			if errors.Is(err, ErrPoolInactive) {
				continue
			}
			j.logger.Error("payout materialization: run generation failed", "pool_id", cycle.PoolID, "cycle_id", cycle.ID, "error", err)
			continue
		}
		if result.AlreadyExisted {
			existing++
		} else {
			generated++
		}
	}
	j.logger.Info("payout materialization complete", "cycles", len(cycles), "generated", generated, "existing", existing)
}

// RunDeferredRevisit reports deferred instructions whose revisit date has
// arrived. Re-queueing stays an explicit admin action; this job only
// surfaces what is waiting.
func (j *Jobs) RunDeferredRevisit() {
	ctx := context.Background()
	asOf := time.Now().UTC()

	due, err := j.repo.FindDeferredInstructionsDue(ctx, asOf)
	if err != nil {
		j.logger.Error("deferred revisit: listing deferred instructions failed", "error", err)
		return
	}
	for _, instr := range due {
		reason := ""
		if instr.DeferReason != nil {
			reason = *instr.DeferReason
		}
		j.logger.Warn("deferred payout awaiting re-queue",
			"instruction_id", instr.ID, "pool_id", instr.PoolID,
			"beneficiary", instr.BeneficiaryID, "amount", instr.Amount, "reason", reason)
	}
	j.logger.Info("deferred revisit complete", "awaiting", len(due))
}
