package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the pool engine.
type Metrics struct {
	RunsGenerated       prometheus.Counter
	DuplicateRunHits    prometheus.Counter
	ObligationsCreated  prometheus.Counter
	ObligationsSettled  *prometheus.CounterVec
	Drawdowns           prometheus.Counter
	DeficitsRecorded    prometheus.Counter
	DeficitAmount       prometheus.Counter
	StateTransitions    *prometheus.CounterVec
	InstructionOutcomes *prometheus.CounterVec
	PolicyRejections    *prometheus.CounterVec
	CreditEventsApplied prometheus.Counter
	CreditEventsBlocked prometheus.Counter
	CollateralUnlocked  prometheus.Counter
	SweepDuration       prometheus.Histogram
}

// NewMetrics registers and returns the engine metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_payout_runs_generated_total",
			Help: "Payout runs materialized (excludes idempotent replays).",
		}),
		DuplicateRunHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_payout_run_duplicates_total",
			Help: "generateRun calls that hit an existing (pool, cycle) run.",
		}),
		ObligationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_obligations_created_total",
			Help: "Obligations created for scheduled cycles.",
		}),
		ObligationsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_engine_obligations_settled_total",
			Help: "Obligations settled, labelled by settlement path.",
		}, []string{"via"}),
		Drawdowns: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_collateral_drawdowns_total",
			Help: "Collateral drawdowns executed by the default state machine.",
		}),
		DeficitsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_collateral_deficits_total",
			Help: "Drawdowns whose locked collateral could not cover the dues.",
		}),
		DeficitAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_collateral_deficit_kobo_total",
			Help: "Cumulative unresolved deficit amount in kobo.",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_engine_default_state_transitions_total",
			Help: "Default state machine transitions.",
		}, []string{"from", "to"}),
		InstructionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_engine_payout_instruction_outcomes_total",
			Help: "Payout instruction transitions by resulting status.",
		}, []string{"status"}),
		PolicyRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_engine_policy_rejections_total",
			Help: "Treasury policy guard rejections by operation.",
		}, []string{"operation"}),
		CreditEventsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_credit_events_applied_total",
			Help: "Contribution/collateral credit events applied.",
		}),
		CreditEventsBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_credit_events_blocked_total",
			Help: "Credit events held back by the global credit kill-switch.",
		}),
		CollateralUnlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_engine_collateral_unlocked_kobo_total",
			Help: "Collateral moved from locked to available, in kobo.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_engine_due_sweep_duration_seconds",
			Help:    "Duration of the cycle due-date sweep job.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
