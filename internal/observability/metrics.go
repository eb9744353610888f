package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spellctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spellctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	commandCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spellctl",
			Subsystem: "command",
			Name:      "calls_total",
			Help:      "Command invocations by outcome.",
		},
		[]string{"command", "success"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spellctl",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result (hit, miss, error).",
		},
		[]string{"command", "result"},
	)
	runnerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spellctl",
			Subsystem: "runner",
			Name:      "runs_total",
			Help:      "Fan-out runs by policy.",
		},
		[]string{"policy"},
	)
	runnerTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spellctl",
			Subsystem: "runner",
			Name:      "task_duration_seconds",
			Help:      "Per-target pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"policy", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			commandCalls,
			cacheLookups,
			runnerRuns,
			runnerTaskDuration,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCommand(command string, success bool) {
	RegisterMetrics()
	commandCalls.WithLabelValues(command, strconv.FormatBool(success)).Inc()
}

// RecordCacheLookup counts one cache read; result is hit, miss or error.
func RecordCacheLookup(command, result string) {
	RegisterMetrics()
	cacheLookups.WithLabelValues(command, result).Inc()
}

func RecordRun(policy string) {
	RegisterMetrics()
	runnerRuns.WithLabelValues(policy).Inc()
}

func RecordTask(policy string, success bool, duration time.Duration) {
	RegisterMetrics()
	runnerTaskDuration.WithLabelValues(policy, strconv.FormatBool(success)).Observe(duration.Seconds())
}
