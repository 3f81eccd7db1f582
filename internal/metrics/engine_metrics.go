package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const engineSubsystem = "engine"

// EngineCollector holds the opportunity engine and optimizer metrics.
type EngineCollector struct {
	scanDuration   *prometheus.HistogramVec
	opportunities  *prometheus.CounterVec
	itemFailures   prometheus.Counter
	packDuration   *prometheus.HistogramVec
	packedItems    *prometheus.HistogramVec
	searchBudget   prometheus.Histogram
	searchTimeouts prometheus.Counter
	winners        *prometheus.CounterVec
	cyclePlans     *prometheus.HistogramVec
}

// NewEngineCollector creates the engine collectors.
func NewEngineCollector() *EngineCollector {
	return &EngineCollector{
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "scan_duration_seconds",
				Help:      "Opportunity search duration by variant",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"variant"},
		),
		opportunities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "opportunities_total",
				Help:      "Opportunities returned by variant",
			},
			[]string{"variant"},
		),
		itemFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "item_failures_total",
				Help:      "Items dropped from a search because their analysis failed",
			},
		),
		packDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "packing_duration_seconds",
				Help:      "Packing strategy wall-clock time",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 5, 15, 30, 60, 90},
			},
			[]string{"algorithm"},
		),
		packedItems: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "packed_items",
				Help:      "Items placed per packing run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"algorithm"},
		),
		searchBudget: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "optimal_search_budget_fraction",
				Help:      "Share of the optimal search time budget consumed",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.25, 0.5, 0.75, 0.9, 1, 1.1},
			},
		),
		searchTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "optimal_search_timeouts_total",
				Help:      "Optimal searches cut short by their time budget",
			},
		),
		winners: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "tournament_wins_total",
				Help:      "Algorithm tournament winners",
			},
			[]string{"algorithm"},
		),
		cyclePlans: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: engineSubsystem,
				Name:      "cycle_plan_duration_seconds",
				Help:      "Cycle planning duration by number of hubs",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"hubs"},
		),
	}
}

func (c *EngineCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.scanDuration, c.opportunities, c.itemFailures,
		c.packDuration, c.packedItems, c.searchBudget, c.searchTimeouts,
		c.winners, c.cyclePlans,
	}
}

// ObserveScan records one opportunity search.
func ObserveScan(variant string, d time.Duration, found int) {
	if c := engineCollector(); c != nil {
		c.scanDuration.WithLabelValues(variant).Observe(d.Seconds())
		c.opportunities.WithLabelValues(variant).Add(float64(found))
	}
}

// RecordItemFailure counts an item dropped after a failed analysis.
func RecordItemFailure() {
	if c := engineCollector(); c != nil {
		c.itemFailures.Inc()
	}
}

// ObservePacking records one packing run.
func ObservePacking(algorithm string, d time.Duration, items int) {
	if c := engineCollector(); c != nil {
		c.packDuration.WithLabelValues(algorithm).Observe(d.Seconds())
		c.packedItems.WithLabelValues(algorithm).Observe(float64(items))
	}
}

// ObserveSearch records how much of its budget an optimal search used.
func ObserveSearch(budgetFraction float64, timedOut bool) {
	if c := engineCollector(); c != nil {
		c.searchBudget.Observe(budgetFraction)
		if timedOut {
			c.searchTimeouts.Inc()
		}
	}
}

// RecordTournamentWinner counts a tournament win.
func RecordTournamentWinner(algorithm string) {
	if c := engineCollector(); c != nil {
		c.winners.WithLabelValues(algorithm).Inc()
	}
}

// ObserveCyclePlan records one cycle plan.
func ObserveCyclePlan(hubs int, d time.Duration) {
	if c := engineCollector(); c != nil {
		c.cyclePlans.WithLabelValues(strconv.Itoa(hubs)).Observe(d.Seconds())
	}
}
