// Package metrics exposes palisade's Prometheus instrumentation. Callers
// fetch the shared Registry with Get and record through its helpers.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all palisade metrics.
type Registry struct {
	// Reconciliation metrics
	AppliesTotal  *prometheus.CounterVec
	ApplyDuration prometheus.Histogram
	ApplyRules    prometheus.Gauge

	// Command adapter metrics
	CommandsTotal *prometheus.CounterVec
	CommandErrors *prometheus.CounterVec

	// Policy state
	RulesByTable    *prometheus.GaugeVec
	ExtensionChains prometheus.Gauge
	DriftState      prometheus.Gauge

	// HTTP surface
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.AppliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palisade_applies_total",
		Help: "Total reconciliation runs by result",
	}, []string{"result"})

	r.ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "palisade_apply_duration_seconds",
		Help:    "Duration of full reconciliation runs",
		Buckets: prometheus.DefBuckets,
	})

	r.ApplyRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "palisade_apply_rules",
		Help: "Rules replayed by the most recent reconciliation",
	})

	r.CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palisade_commands_total",
		Help: "iptables invocations by operation and result",
	}, []string{"op", "result"})

	r.CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palisade_command_errors_total",
		Help: "iptables failures by translated category",
	}, []string{"category"})

	r.RulesByTable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "palisade_rules",
		Help: "Stored rules by table",
	}, []string{"table"})

	r.ExtensionChains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "palisade_extension_chains",
		Help: "Registered extension chains",
	})

	r.DriftState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "palisade_drift",
		Help: "1 when the last drift check found live chains out of sync",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palisade_http_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "palisade_http_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordApply records one reconciliation run.
func (r *Registry) RecordApply(ok bool, seconds float64, ruleCount int) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.AppliesTotal.WithLabelValues(result).Inc()
	r.ApplyDuration.Observe(seconds)
	r.ApplyRules.Set(float64(ruleCount))
}

// RecordCommand records one adapter invocation. category is empty on
// success, otherwise the translated error category label.
func (r *Registry) RecordCommand(op, category string) {
	result := "ok"
	if category != "" {
		result = "error"
		r.CommandErrors.WithLabelValues(category).Inc()
	}
	r.CommandsTotal.WithLabelValues(op, result).Inc()
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, seconds float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(seconds)
}

// SetRuleCount updates the stored-rule gauge for one table.
func (r *Registry) SetRuleCount(table string, n int) {
	r.RulesByTable.WithLabelValues(table).Set(float64(n))
}

// SetExtensionChains updates the registered-chain gauge.
func (r *Registry) SetExtensionChains(n int) {
	r.ExtensionChains.Set(float64(n))
}

// RecordDriftCheck updates the drift gauge from the latest check.
func (r *Registry) RecordDriftCheck(inSync bool) {
	if inSync {
		r.DriftState.Set(0)
	} else {
		r.DriftState.Set(1)
	}
}
