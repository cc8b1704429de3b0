package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	computeDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	gateDecisions   *prometheus.CounterVec
	gateLatency     prometheus.Histogram
	violations      *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		computeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finrisk_var_compute_seconds",
				Help:    "Duration of VaR computations by method",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrisk_errors_total",
				Help: "Total number of errors by kind",
			},
			[]string{"type"},
		),
		gateDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrisk_gate_decisions_total",
				Help: "Pre-trade gate decisions",
			},
			[]string{"allowed"},
		),
		gateLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finrisk_gate_latency_seconds",
				Help:    "Latency of pre-trade checks",
				Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
			},
		),
		violations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrisk_gate_violations_total",
				Help: "Pre-trade violations by code",
			},
			[]string{"code"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrisk_alerts_total",
				Help: "Risk alerts emitted by severity",
			},
			[]string{"severity"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrisk_metrics_cache_lookups_total",
				Help: "Risk metrics cache lookups",
			},
			[]string{"result"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finrisk_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finrisk_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordComputation(method string, seconds float64) {
	r.computeDuration.WithLabelValues(method).Observe(seconds)
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordGateDecision(allowed bool, seconds float64) {
	r.gateDecisions.WithLabelValues(strconv.FormatBool(allowed)).Inc()
	r.gateLatency.Observe(seconds)
}

func (r *Recorder) RecordViolation(code string) {
	r.violations.WithLabelValues(code).Inc()
}

func (r *Recorder) RecordAlert(severity string) {
	r.alerts.WithLabelValues(severity).Inc()
}

func (r *Recorder) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordComputation(string, float64) {}
func (Nop) RecordError(string)                {}
func (Nop) RecordGateDecision(bool, float64)  {}
func (Nop) RecordViolation(string)            {}
func (Nop) RecordAlert(string)                {}
func (Nop) RecordCache(bool)                  {}
func (Nop) RecordLastPrice(string, float64)   {}
func (Nop) RecordLatency(string, float64)     {}
