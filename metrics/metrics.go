package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors on a private registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	runsCreated      *prometheus.CounterVec
	runsClaimed      prometheus.Counter
	claimConflicts   prometheus.Counter
	runsStopped      *prometheus.CounterVec
	runsFinished     *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	pausedSkips      prometheus.Counter
	inflight         prometheus.Gauge
	ownedPartitions  prometheus.Gauge
	handoffs         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_runs_created_total",
				Help: "Runs created from trigger events",
			},
			[]string{"workflow"},
		),
		runsClaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autoflow_runs_claimed_total",
				Help: "Due runs claimed by this node",
			},
		),
		claimConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autoflow_claim_conflicts_total",
				Help: "Claims lost to another claimant or a stop",
			},
		),
		runsStopped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_runs_stopped_total",
				Help: "Waiting runs stopped by a condition event",
			},
			[]string{"condition"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_runs_finished_total",
				Help: "Runs that reached a terminal status",
			},
			[]string{"status"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_dispatches_total",
				Help: "Action dispatches by action type and outcome",
			},
			[]string{"action", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoflow_dispatch_duration_seconds",
				Help:    "Time spent in a single capability call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		pausedSkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autoflow_due_runs_paused_total",
				Help: "Due runs left waiting because their workflow is not active",
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoflow_dispatches_inflight",
				Help: "Dispatch goroutines currently running",
			},
		),
		ownedPartitions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoflow_owned_partitions",
				Help: "Partitions this node polls",
			},
		),
		handoffs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_partition_handoffs_total",
				Help: "Partitions gained or lost on membership changes",
			},
			[]string{"direction"},
		),
	}
	m.registry.MustRegister(
		m.runsCreated, m.runsClaimed, m.claimConflicts, m.runsStopped, m.runsFinished,
		m.dispatches, m.dispatchDuration, m.pausedSkips, m.inflight,
		m.ownedPartitions, m.handoffs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunCreated(workflowId string) {
	if m == nil {
		return
	}
	m.runsCreated.WithLabelValues(workflowId).Inc()
}

func (m *Metrics) RunClaimed() {
	if m == nil {
		return
	}
	m.runsClaimed.Inc()
}

func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

func (m *Metrics) RunStopped(condition string) {
	if m == nil {
		return
	}
	m.runsStopped.WithLabelValues(condition).Inc()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) Dispatched(actionType string, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(actionType, outcome).Inc()
	m.dispatchDuration.WithLabelValues(actionType).Observe(took.Seconds())
}

func (m *Metrics) PausedSkip() {
	if m == nil {
		return
	}
	m.pausedSkips.Inc()
}

func (m *Metrics) DispatchStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) DispatchDone() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

func (m *Metrics) OwnedPartitions(owned int) {
	if m == nil {
		return
	}
	m.ownedPartitions.Set(float64(owned))
}

func (m *Metrics) PartitionsHandedOff(gained int, lost int) {
	if m == nil {
		return
	}
	m.handoffs.WithLabelValues("gained").Add(float64(gained))
	m.handoffs.WithLabelValues("lost").Add(float64(lost))
}
