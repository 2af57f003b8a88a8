package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GuessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordpot_guesses_total",
			Help: "Total number of guess submissions by outcome",
		},
		[]string{"outcome"},
	)

	GuessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wordpot_guess_duration_seconds",
			Help:    "Duration of guess submissions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	RoundsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wordpot_rounds_created_total",
			Help: "Total number of rounds opened",
		},
	)

	RoundsResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wordpot_rounds_resolved_total",
			Help: "Total number of rounds resolved with a winner",
		},
	)

	PayoutExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordpot_payout_executions_total",
			Help: "Total number of payout hand-offs by status",
		},
		[]string{"status"},
	)

	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordpot_cache_invalidations_total",
			Help: "Total number of cache invalidations by scope and status",
		},
		[]string{"scope", "status"},
	)

	OutboxEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordpot_outbox_events_total",
			Help: "Total number of dispatched outbox events by type and status",
		},
		[]string{"type", "status"},
	)

	IntegrityViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordpot_integrity_violations_total",
			Help: "Total number of integrity violations by kind",
		},
		[]string{"kind"},
	)
)
