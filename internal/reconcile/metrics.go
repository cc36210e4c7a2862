package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records reconciliation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	entities       *prometheus.CounterVec
	propertyWrites *prometheus.CounterVec
	duration       prometheus.Histogram
}

// NewMetrics creates the reconciliation metrics and registers them with reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shesha",
			Subsystem: "reconcile",
			Name:      "entities_total",
			Help:      "Entity types processed by reconciliation, by action.",
		}, []string{"action"}),
		propertyWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shesha",
			Subsystem: "reconcile",
			Name:      "property_writes_total",
			Help:      "Entity property rows written by reconciliation, by operation.",
		}, []string{"op"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shesha",
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.entities, m.propertyWrites, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(report *Report, elapsed time.Duration) {
	if m == nil {
		return
	}
	for _, e := range report.Entities {
		m.entities.WithLabelValues(string(e.Action)).Inc()
		m.propertyWrites.WithLabelValues("insert").Add(float64(len(e.Properties.Inserted)))
		m.propertyWrites.WithLabelValues("update").Add(float64(len(e.Properties.Updated)))
		m.propertyWrites.WithLabelValues("delete").Add(float64(len(e.Properties.Deleted)))
	}
	m.duration.Observe(elapsed.Seconds())
}
