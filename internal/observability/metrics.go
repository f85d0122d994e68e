package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OpFetch   = "fetch"
	OpCommit  = "commit"
	OpHistory = "history"
)

var storeBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5}

type Metrics struct {
	rulesAdded    prometheus.Counter
	rulesReplaced prometheus.Counter
	rulesDeleted  prometheus.Counter
	inputTotal    *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	fetchSeconds  prometheus.Histogram
	commitSeconds prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	ratelimitHits *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rulesAdded: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "rulekeeper_rules_added_total", Help: "Rules appended to a rule file"},
		),
		rulesReplaced: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "rulekeeper_rules_replaced_total", Help: "Existing rules rewritten without a policy column"},
		),
		rulesDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "rulekeeper_rules_deleted_total", Help: "Rules commented out"},
		),
		inputTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rulekeeper_input_total", Help: "User supplied rule values by kind and validation result"},
			[]string{"kind", "result"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rulekeeper_store_errors_total", Help: "Failed remote store attempts"},
			[]string{"operation"},
		),
		fetchSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rulekeeper_store_fetch_seconds",
				Help:    "Latency of a single fetch attempt",
				Buckets: storeBuckets,
			},
		),
		commitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rulekeeper_store_commit_seconds",
				Help:    "Latency of a single commit attempt",
				Buckets: storeBuckets,
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rulekeeper_http_requests_total", Help: "HTTP API requests"},
			[]string{"route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rulekeeper_http_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ratelimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rulekeeper_ratelimit_hits_total", Help: "Mutations rejected by the per-user rate limit"},
			[]string{"route"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.rulesAdded,
		m.rulesReplaced,
		m.rulesDeleted,
		m.inputTotal,
		m.storeErrors,
		m.fetchSeconds,
		m.commitSeconds,
		m.httpRequests,
		m.httpDuration,
		m.ratelimitHits,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) RuleAdded() {
	if m == nil {
		return
	}
	m.rulesAdded.Inc()
}

func (m *Metrics) RuleReplaced() {
	if m == nil {
		return
	}
	m.rulesReplaced.Inc()
}

func (m *Metrics) RuleDeleted() {
	if m == nil {
		return
	}
	m.rulesDeleted.Inc()
}

// Input counts one normalization attempt for kind.
func (m *Metrics) Input(kind string, valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.inputTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// ObserveStore records the latency of one store attempt. Operations other
// than fetch and commit are not timed.
func (m *Metrics) ObserveStore(op string, d time.Duration) {
	if m == nil {
		return
	}
	switch op {
	case OpFetch:
		m.fetchSeconds.Observe(d.Seconds())
	case OpCommit:
		m.commitSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, intToString(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.ratelimitHits.WithLabelValues(route).Inc()
}

func intToString(code int) string {
	if code == 0 {
		return "0"
	}
	return strconv.Itoa(code)
}
