// Package metrics holds the coordinator's Prometheus collectors: HTTP
// instrumentation plus the domain counters operators watch for fleet health
// (transition churn, recovery outcomes, command-bus latency, ledger volume).
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this binary registers.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet", Subsystem: "http", Name: "inflight_requests",
		Help: "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet", Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botfleet", Subsystem: "http", Name: "request_duration_seconds",
		Help: "Duration of HTTP requests.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	nodeTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet", Subsystem: "nodes", Name: "transitions_total",
		Help: "Node status transitions, labeled by (from, to).",
	}, []string{"from", "to"})

	recoveryEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet", Subsystem: "recovery", Name: "events_total",
		Help: "Recovery events, labeled by final outcome (completed, partial).",
	}, []string{"outcome"})

	recoveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botfleet", Subsystem: "recovery", Name: "event_duration_seconds",
		Help: "Wall-clock duration of a triggerRecovery run.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"outcome"})

	commandBusLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botfleet", Subsystem: "commandbus", Name: "round_trip_seconds",
		Help: "Round-trip latency of Bus.Send, labeled by command type and outcome.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"command", "outcome"})

	ledgerTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet", Subsystem: "ledger", Name: "transactions_total",
		Help: "Ledger transactions recorded, labeled by transaction type.",
	}, []string{"type"})

	inferenceReboots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet", Subsystem: "inference", Name: "reboots_total",
		Help: "Reboot commands issued by the inference watchdog, by node.",
	}, []string{"node_id"})

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		nodeTransitions,
		recoveryEvents,
		recoveryDuration,
		commandBusLatency,
		ledgerTransactions,
		inferenceReboots,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordNodeTransition records a single state-machine edge taken.
func RecordNodeTransition(from, to string) {
	nodeTransitions.WithLabelValues(from, to).Inc()
}

// RecordRecoveryEvent records the terminal outcome and wall-clock duration
// of one triggerRecovery run.
func RecordRecoveryEvent(outcome string, duration time.Duration) {
	recoveryEvents.WithLabelValues(outcome).Inc()
	recoveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCommandBusRoundTrip records one Bus.Send call's latency and outcome.
func RecordCommandBusRoundTrip(command, outcome string, duration time.Duration) {
	commandBusLatency.WithLabelValues(command, outcome).Observe(duration.Seconds())
}

// RecordLedgerTransaction records one ledger row written, by transaction type.
func RecordLedgerTransaction(txnType string) {
	ledgerTransactions.WithLabelValues(txnType).Inc()
}

// RecordInferenceReboot records one reboot command issued by the inference
// watchdog for nodeID.
func RecordInferenceReboot(nodeID string) {
	inferenceReboots.WithLabelValues(nodeID).Inc()
}

// ObservationHooks captures optional start/complete callbacks for an
// arbitrary long-running operation, backed by a lazily created gauge+
// histogram pair per (namespace, subsystem, name).
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// NewObservationHooks creates ObservationHooks backed by Prometheus metrics
// registered under namespace/subsystem/name, reusing the collector pair if
// this triple has already been requested.
func NewObservationHooks(namespace, subsystem, name string) ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return ObservationHooks{
		OnStart: func(_ context.Context, meta map[string]string) {
			collector.gauge.WithLabelValues(metaLabel(meta)).Inc()
		},
		OnComplete: func(_ context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name + "_in_flight",
		Help: "Current operations in flight for " + subsystem,
	}, []string{"resource"})
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name + "_duration_seconds",
		Help: "Duration of operations for " + subsystem, Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"resource", "status"})
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["node_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["tenant_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path-parameter segments so high-cardinality IDs
// don't explode the requests_total/request_duration_seconds label sets.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	switch parts[0] {
	case "tenants":
		if len(parts) == 1 {
			return "/tenants"
		}
		if len(parts) == 2 {
			return "/tenants/:tenant"
		}
		return "/tenants/:tenant/" + strings.Join(parts[2:], "/")
	case "nodes":
		if len(parts) == 1 {
			return "/nodes"
		}
		if len(parts) == 2 {
			return "/nodes/:node"
		}
		return "/nodes/:node/" + strings.Join(parts[2:], "/")
	default:
		return "/" + parts[0]
	}
}
