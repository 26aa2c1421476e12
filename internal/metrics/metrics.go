package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from job creation to worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of job HTTP execution.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being executed by the worker.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by outcome.",
	}, []string{"outcome"})

	// Reaper metrics

	ReaperRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "reaper_rescued_total",
		Help:      "Total rows reclaimed by the reaper, by work-queue table.",
	}, []string{"target"})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	// Outbox dispatcher

	OutboxHandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "outbox_handler_duration_seconds",
		Help:      "Duration of an outbox topic handler invocation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})

	OutboxMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "outbox_messages_total",
		Help:      "Outbox messages resolved, by topic and outcome.",
	}, []string{"topic", "outcome"})

	// Inbox ingestion and worker

	InboxIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "inbox_ingested_total",
		Help:      "Inbound webhook deliveries classified, by decision.",
	}, []string{"source", "decision"})

	InboxHandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "inbox_handler_duration_seconds",
		Help:      "Duration of an inbox event-type handler invocation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// Scheduler leader / run worker

	SchedulerRunsMaterializedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "scheduler_runs_materialized_total",
		Help:      "JobRuns rows created by the leader tick loop.",
	})

	SchedulerLeaderUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "scheduler_leader_up",
		Help:      "1 if this process currently holds the scheduler leader lease, else 0.",
	})

	// Fanout slicer

	FanoutSlicesEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "fanout_slices_emitted_total",
		Help:      "Fanout window slices enqueued to the outbox, by topic.",
	}, []string{"topic"})

	FanoutCatchupWindowsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "fanout_catchup_windows_dropped_total",
		Help:      "Catch-up windows skipped because they exceeded MaxCatchupWindows.",
	}, []string{"topic"})

	// Leases

	LeaseAcquisitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "lease_acquisitions_total",
		Help:      "Lease acquire/renew attempts, by resource and outcome.",
	}, []string{"resource", "outcome"})

	// Watchdog

	WatchdogAlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "watchdog_alerts_total",
		Help:      "Alerts raised by the watchdog, by bucket.",
	}, []string{"bucket"})
)

func Register() {
	prometheus.MustRegister(
		JobPickupLatency,
		JobExecutionDuration,
		JobsInFlight,
		JobsCompletedTotal,
		ReaperRescuedTotal,
		ReaperCycleDuration,
		WorkerStartTime,
		WorkerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		OutboxHandlerDuration,
		OutboxMessagesTotal,
		InboxIngestedTotal,
		InboxHandlerDuration,
		SchedulerRunsMaterializedTotal,
		SchedulerLeaderUp,
		FanoutSlicesEmittedTotal,
		FanoutCatchupWindowsDropped,
		LeaseAcquisitionsTotal,
		WatchdogAlertsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
