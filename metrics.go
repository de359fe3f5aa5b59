package modwire

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a container. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	resolveAttempts  prometheus.Counter
	resolveConflicts prometheus.Counter
	resolveFailures  prometheus.Counter
	refreshes        prometheus.Counter
	modules          *prometheus.GaugeVec
	removalPending   prometheus.Gauge
	startLevel       prometheus.Gauge
}

// NewMetrics creates the container collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		resolveAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modwire",
			Name:      "resolve_attempts_total",
			Help:      "Resolution attempts, including retries after concurrent modification",
		}),
		resolveConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modwire",
			Name:      "resolve_conflicts_total",
			Help:      "Commits abandoned because the store changed since the snapshot",
		}),
		resolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modwire",
			Name:      "resolve_failures_total",
			Help:      "Resolution attempts that failed",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modwire",
			Name:      "refreshes_total",
			Help:      "Completed refresh jobs",
		}),
		modules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "modwire",
			Name:      "modules",
			Help:      "Installed modules by lifecycle state",
		}, []string{"state"}),
		removalPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modwire",
			Name:      "removal_pending",
			Help:      "Revisions that are no longer current but still wired",
		}),
		startLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modwire",
			Name:      "start_level",
			Help:      "Active container start level",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.resolveAttempts, m.resolveConflicts, m.resolveFailures, m.refreshes,
		m.modules, m.removalPending, m.startLevel,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ResolveAttempts returns the resolution attempt counter.
func (m *Metrics) ResolveAttempts() prometheus.Counter { return m.resolveAttempts }

// ResolveConflicts returns the counter of commits lost to concurrent
// modification.
func (m *Metrics) ResolveConflicts() prometheus.Counter { return m.resolveConflicts }

// ResolveFailures returns the failed resolution counter.
func (m *Metrics) ResolveFailures() prometheus.Counter { return m.resolveFailures }

// Refreshes returns the refresh counter.
func (m *Metrics) Refreshes() prometheus.Counter { return m.refreshes }

// RemovalPending returns the removal pending gauge.
func (m *Metrics) RemovalPending() prometheus.Gauge { return m.removalPending }

func (m *Metrics) resolveAttempt() {
	if m != nil {
		m.resolveAttempts.Inc()
	}
}

func (m *Metrics) resolveConflict() {
	if m != nil {
		m.resolveConflicts.Inc()
	}
}

func (m *Metrics) resolveFailure() {
	if m != nil {
		m.resolveFailures.Inc()
	}
}

func (m *Metrics) refreshed() {
	if m != nil {
		m.refreshes.Inc()
	}
}

// updateGauges recomputes the state gauges from the store.
func (c *Container) updateGauges() {
	if c.metrics == nil {
		return
	}
	counts := make(map[ModuleState]int, len(AllModuleStates))
	c.store.lockRead()
	for _, m := range c.store.modules {
		counts[m.State()]++
	}
	pending := len(c.store.removalPendingLocked())
	c.store.unlockRead()

	for _, state := range AllModuleStates {
		c.metrics.modules.WithLabelValues(state.String()).Set(float64(counts[state]))
	}
	c.metrics.removalPending.Set(float64(pending))
	c.metrics.startLevel.Set(float64(c.StartLevel()))
}
