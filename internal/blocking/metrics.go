package blocking

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bobuk/calblock/internal/logging"
)

// Metrics counts engine operations and mirror writes. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	operations   *prometheus.CounterVec
	mirrorWrites *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewMetrics creates the engine metrics and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calblock",
			Name:      "operations_total",
			Help:      "Blocking engine operations by result.",
		}, []string{"operation", "result"}),
		mirrorWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calblock",
			Name:      "mirror_writes_total",
			Help:      "Mirror event writes by result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "calblock",
			Name:      "operation_duration_seconds",
			Help:      "Blocking engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.mirrorWrites, m.duration)
	}
	return m
}

func (m *Metrics) operation(op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) mirror(op string, err error) {
	if m == nil {
		return
	}
	result := logging.StatusSuccess
	if err != nil {
		result = logging.StatusError
	}
	m.mirrorWrites.WithLabelValues(op, result).Inc()
}
