// Package metrics exposes Prometheus collectors for forecast runs and ingestion.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/evforecast/internal/models"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	trialsTotal    prometheus.Counter
	runDuration    prometheus.Histogram
	winProbability *prometheus.GaugeVec
	meanVotesA     prometheus.Gauge
	ingestTotal    *prometheus.CounterVec
	ingestRows     *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evforecast_runs_total",
				Help: "Forecast runs by outcome.",
			},
			[]string{"status"},
		),
		trialsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "evforecast_trials_total",
			Help: "Monte Carlo trials simulated.",
		}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "evforecast_run_duration_seconds",
			Help:    "Wall time of a forecast run.",
			Buckets: prometheus.DefBuckets,
		}),
		winProbability: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evforecast_win_probability",
				Help: "Share of trials won in the latest run.",
			},
			[]string{"side"},
		),
		meanVotesA: f.NewGauge(prometheus.GaugeOpts{
			Name: "evforecast_mean_electoral_votes_a",
			Help: "Mean electoral votes of side A in the latest run.",
		}),
		ingestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evforecast_ingest_total",
				Help: "Polling feed ingestions by outcome.",
			},
			[]string{"status"},
		),
		ingestRows: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evforecast_ingest_rows",
				Help: "Rows in the latest ingestion by disposition.",
			},
			[]string{"disposition"},
		),
	}
}

// ObserveRun records a successful run.
func (m *Metrics) ObserveRun(run *models.RunSummary) {
	m.runsTotal.WithLabelValues("ok").Inc()
	m.trialsTotal.Add(float64(run.Trials))
	m.runDuration.Observe(run.Duration.Seconds())
	m.winProbability.WithLabelValues("a").Set(run.Summary.WinProbability(models.SideA))
	m.winProbability.WithLabelValues("b").Set(run.Summary.WinProbability(models.SideB))
	m.winProbability.WithLabelValues("tie").Set(tieShare(run.Summary))
	m.meanVotesA.Set(run.MeanVotesA)
}

func tieShare(s models.Summary) float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Ties) / float64(s.Total())
}

// ObserveRunFailure records a failed run.
func (m *Metrics) ObserveRunFailure(elapsed time.Duration) {
	m.runsTotal.WithLabelValues("error").Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// ObserveIngest records a successful ingestion with its row counts.
func (m *Metrics) ObserveIngest(kept, incomplete, invalid int) {
	m.ingestTotal.WithLabelValues("ok").Inc()
	m.ingestRows.WithLabelValues("kept").Set(float64(kept))
	m.ingestRows.WithLabelValues("incomplete").Set(float64(incomplete))
	m.ingestRows.WithLabelValues("invalid").Set(float64(invalid))
}

// ObserveIngestFailure records a failed ingestion.
func (m *Metrics) ObserveIngestFailure() {
	m.ingestTotal.WithLabelValues("error").Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
