package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fleet state gauges, refreshed by the Collector
var (
	HostsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cordon",
		Name:      "hosts",
		Help:      "Number of registered hosts by status",
	}, []string{"status"})

	DeploymentsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cordon",
		Name:      "deployments",
		Help:      "Number of deployments by status",
	}, []string{"status"})

	ServicesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cordon",
		Name:      "services",
		Help:      "Number of registered services",
	})
)

// Monitor and recovery counters
var (
	StaleHostsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "stale_hosts_detected_total",
		Help:      "Hosts flipped from online to offline by stale detection",
	})

	RecoveryRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "recovery_runs_total",
		Help:      "Recovery passes triggered by host failures",
	})

	ServicesRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "services_recovered_total",
		Help:      "Services successfully re-planned after a host failure",
	})

	RecoveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "recovery_failures_total",
		Help:      "Per-service recovery attempts that failed",
	})
)

// Work queue counters
var (
	WorkItemsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "work_items_created_total",
		Help:      "Work items enqueued by kind",
	}, []string{"kind"})

	WorkItemsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "work_items_claimed_total",
		Help:      "Work items claimed by agents, by kind",
	}, []string{"kind"})

	WorkItemsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "work_items_resolved_total",
		Help:      "Work items resolved by agents, by kind and terminal status",
	}, []string{"kind", "status"})
)

// Port allocator counters
var (
	PortsAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "ports_allocated_total",
		Help:      "Host ports allocated by protocol",
	}, []string{"protocol"})

	PortRangeExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "port_range_exhausted_total",
		Help:      "Allocation attempts that found no free port, by protocol",
	}, []string{"protocol"})
)

// API counters and latency
var (
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "api_requests_total",
		Help:      "API requests by method, route and status code",
	}, []string{"method", "route", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cordon",
		Name:      "api_request_duration_seconds",
		Help:      "API request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "auth_failures_total",
		Help:      "Agent requests rejected at admission",
	})
)
