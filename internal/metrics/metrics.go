package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nexusradar/internal/domain"
)

// Metrics holds the Prometheus collectors for report runs
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	Jurisdictions       *prometheus.CounterVec
	TransactionsCounted prometheus.Counter
}

// New creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_report_runs_total",
			Help: "Report runs by accounting basis and outcome",
		}, []string{"basis", "outcome"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_report_run_duration_seconds",
			Help:    "Time spent fetching, aggregating and evaluating one report",
			Buckets: prometheus.DefBuckets,
		}),
		Jurisdictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_jurisdictions_classified_total",
			Help: "Jurisdictions classified, by severity",
		}, []string{"severity"}),
		TransactionsCounted: f.NewCounter(prometheus.CounterOpts{
			Name: "nexus_transactions_counted_total",
			Help: "Transactions that contributed to a report under its basis",
		}),
	}
}

// ObserveRun records one finished run. A nil receiver is a no-op.
func (m *Metrics) ObserveRun(basis domain.Basis, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	m.RunsTotal.WithLabelValues(string(basis), outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// ObserveReport records the classification mix of a report.
func (m *Metrics) ObserveReport(report domain.RiskReport, counted int) {
	if m == nil {
		return
	}
	for _, row := range report.Rows {
		m.Jurisdictions.WithLabelValues(string(row.Severity)).Inc()
	}
	m.TransactionsCounted.Add(float64(counted))
}
