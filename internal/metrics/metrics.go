// Package metrics holds the runtime's Prometheus collectors. Label values are
// bounded: callback kinds only, never entity ids or behavior names.
package metrics

import (
	"time"

	"github.com/l1jgo/scriptrt/internal/core/fault"
	"github.com/l1jgo/scriptrt/internal/core/sched"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	tickDuration prometheus.Histogram

	timersExecuted prometheus.Counter
	timersSkipped  prometheus.Counter
	timersDeferred prometheus.Gauge
	budgetOverruns prometheus.Counter
	schedulerPass  prometheus.Histogram

	callbackFaults *prometheus.CounterVec
	journalDropped prometheus.Counter

	instances     prometheus.Gauge
	pendingTimers prometheus.Gauge
	subscriptions prometheus.Gauge
}

// New registers every collector with reg. Use a fresh prometheus.Registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "behavior_frame_duration_seconds",
			Help:    "Wall time of one frame pipeline run",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033, 0.1},
		}),
		timersExecuted: f.NewCounter(prometheus.CounterOpts{
			Name: "behavior_timers_executed_total",
			Help: "Timer callbacks executed",
		}),
		timersSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "behavior_timers_skipped_total",
			Help: "Cancelled timer entries evicted during a pass",
		}),
		timersDeferred: f.NewGauge(prometheus.GaugeOpts{
			Name: "behavior_timers_deferred",
			Help: "Due timers left queued by the last pass",
		}),
		budgetOverruns: f.NewCounter(prometheus.CounterOpts{
			Name: "behavior_scheduler_budget_overruns_total",
			Help: "Scheduler passes stopped by the frame budget",
		}),
		schedulerPass: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "behavior_scheduler_pass_seconds",
			Help:    "Wall time of one scheduler pass",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}),
		callbackFaults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "behavior_callback_faults_total",
			Help: "Behavior callbacks that returned an error or panicked",
		}, []string{"kind"}),
		journalDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "behavior_fault_journal_dropped_total",
			Help: "Fault records dropped because the journal writer was behind",
		}),
		instances: f.NewGauge(prometheus.GaugeOpts{
			Name: "behavior_instances",
			Help: "Attached behavior instances",
		}),
		pendingTimers: f.NewGauge(prometheus.GaugeOpts{
			Name: "behavior_pending_timers",
			Help: "Live timers in the scheduler",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "behavior_subscriptions",
			Help: "Live event subscriptions",
		}),
	}
}

func (m *Metrics) RecordFrame(d time.Duration) { m.tickDuration.Observe(d.Seconds()) }

// RecordPass folds one scheduler pass into the counters.
func (m *Metrics) RecordPass(st sched.Stats) {
	m.timersExecuted.Add(float64(st.Executed))
	m.timersSkipped.Add(float64(st.Skipped))
	m.timersDeferred.Set(float64(st.Deferred))
	if st.Overran {
		m.budgetOverruns.Inc()
	}
	m.schedulerPass.Observe(st.Elapsed.Seconds())
}

func (m *Metrics) RecordFault(kind fault.Kind) {
	m.callbackFaults.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) RecordJournalDrop(n int) { m.journalDropped.Add(float64(n)) }

// SetLive updates the population gauges.
func (m *Metrics) SetLive(instances, timers, subscriptions int) {
	m.instances.Set(float64(instances))
	m.pendingTimers.Set(float64(timers))
	m.subscriptions.Set(float64(subscriptions))
}
