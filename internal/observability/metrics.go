// Package observability holds the Prometheus collectors and OpenTelemetry tracers shared by
// the automation engine components.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "servicegrid"

// Registry holds every collector exposed on /metrics
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// QueueDepth is the number of queued jobs
	QueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Number of jobs waiting in the scheduler queue.",
	})

	// RunningJobs is the number of jobs held by execution runners
	RunningJobs = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "running_jobs",
		Help:      "Number of jobs currently executing.",
	})

	// JobTransitions counts state transitions by target state
	JobTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_transitions_total",
		Help:      "Job state transitions by target state.",
	}, []string{"to"})

	// JobDuration observes wall time from dispatch to terminal state
	JobDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Execution time of jobs from dispatch to completion.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"kind", "state"})

	// SecurityDecisions counts validator decisions
	SecurityDecisions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Security validator decisions by outcome and reason.",
	}, []string{"decision", "reason"})

	// AdapterCalls counts integration adapter invocations
	AdapterCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runner",
		Name:      "adapter_calls_total",
		Help:      "Integration adapter invocations by kind and result.",
	}, []string{"kind", "result"})

	// Approvals counts approval decisions
	Approvals = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "approvals_total",
		Help:      "Approval decisions by outcome.",
	}, []string{"decision"})

	// SLABreaches counts jobs flagged past their SLA deadline
	SLABreaches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "sla_breaches_total",
		Help:      "Jobs flagged as past their SLA deadline.",
	}, []string{"kind"})
)

// HTTPRequests observes API request latency by route name and status code
var HTTPRequests = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "api",
	Name:      "request_duration_seconds",
	Help:      "API request latency by route and status code.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "status"})

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Tracer returns the tracer of a component. Without a configured provider spans are no-ops.
func Tracer(component string) trace.Tracer {
	return otel.Tracer("servicegrid/" + component)
}
