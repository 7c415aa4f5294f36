package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions     *prometheus.CounterVec
	orders        *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	confidence    prometheus.Histogram
	activeWorkers prometheus.Gauge
	dailyPnL      *prometheus.GaugeVec
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixedtime_decisions_total",
				Help: "Trade decisions by outcome status and reason",
			},
			[]string{"status", "reason"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixedtime_orders_total",
				Help: "Settled orders by result",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixedtime_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fixedtime_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		confidence: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fixedtime_ensemble_confidence",
				Help:    "Ensemble confidence of evaluated signals",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		activeWorkers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fixedtime_active_workers",
				Help: "Number of running workers",
			},
		),
		dailyPnL: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fixedtime_daily_pnl",
				Help: "Realized PnL for the current UTC day",
			},
			[]string{"account"},
		),
	}
}

// RecordDecision counts an executor outcome.
func (r *Recorder) RecordDecision(status, reason string) {
	r.decisions.WithLabelValues(status, reason).Inc()
}

// RecordOrder counts a settled order by result.
func (r *Recorder) RecordOrder(result string) {
	r.orders.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordConfidence(v float64) {
	r.confidence.Observe(v)
}

func (r *Recorder) SetActiveWorkers(n int) {
	r.activeWorkers.Set(float64(n))
}

func (r *Recorder) SetDailyPnL(account string, v float64) {
	r.dailyPnL.WithLabelValues(account).Set(v)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordDecision(string, string) {}
func (Nop) RecordOrder(string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordConfidence(float64) {}
func (Nop) SetActiveWorkers(int) {}
func (Nop) SetDailyPnL(string, float64) {}
