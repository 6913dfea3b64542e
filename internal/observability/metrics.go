package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personai_turns_total",
			Help: "Total number of handled turns",
		},
		[]string{"mode", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "personai_provider_latency_seconds",
			Help: "Completion provider call latency in seconds",
		},
		[]string{"pass"},
	)

	ProviderFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "personai_provider_failures_total",
			Help: "Completion provider calls that failed",
		},
	)

	ToolDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personai_tool_dispatches_total",
			Help: "Tool calls dispatched by tool and result",
		},
		[]string{"tool", "result"},
	)

	RepairJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personai_repair_jobs_total",
			Help: "Mission repair jobs by result",
		},
		[]string{"result"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personai_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "personai_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)
)
