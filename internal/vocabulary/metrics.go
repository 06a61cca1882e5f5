package vocabulary

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Commit results recorded by Metrics.
const (
	commitOK       = "ok"
	commitLostRace = "lost_race"
	commitError    = "error"
	commitSkipped  = "skipped"
)

// Metrics holds Prometheus metrics for ensure calls.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	outcomes      *prometheus.CounterVec // By outcome kind
	ensureSeconds prometheus.Histogram
	commits       *prometheus.CounterVec // By result: ok, lost_race, error, skipped
}

// NewMetrics creates vocabulary metrics and registers them with reg.
// A nil reg creates unregistered metrics, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentat",
			Subsystem: "vocabulary",
			Name:      "outcomes_total",
			Help:      "Vocabulary outcomes reported by ensure calls",
		}, []string{"outcome"}),

		ensureSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mentat",
			Subsystem: "vocabulary",
			Name:      "ensure_seconds",
			Help:      "Duration of ensure calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms to ~8s
		}),

		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentat",
			Subsystem: "vocabulary",
			Name:      "commits_total",
			Help:      "Schema transactions attempted by ensure calls, by result",
		}, []string{"result"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.outcomes, m.ensureSeconds, m.commits} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeOutcome(kind OutcomeKind) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeCommit(result string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
}

func (m *Metrics) observeEnsure(start time.Time) {
	if m == nil {
		return
	}
	m.ensureSeconds.Observe(time.Since(start).Seconds())
}
