package mock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mock_requests_total",
			Help: "Total requests intercepted by the mock servers",
		},
		[]string{"transport", "outcome"},
	)

	ruleMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mock_rule_matches_total",
			Help: "Total matches per rule",
		},
		[]string{"rule"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mock_dispatch_duration_seconds",
			Help: "Time spent dispatching one intercepted request",
		},
		[]string{"transport"},
	)

	activeRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mock_active_rules",
			Help: "Number of rules in the active rule set",
		},
	)

	injectedFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mock_injected_faults_total",
			Help: "Fault injections performed (delays, errors)",
		},
		[]string{"kind"},
	)
)

const (
	outcomeMatched = "matched"
	outcomeMiss    = "miss"
	outcomeError   = "error"
)
