package posting

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts posting outcomes.
type Metrics struct {
	postings  *prometheus.CounterVec
	movements prometheus.Counter
}

// NewMetrics registers the posting collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_postings_total",
		Help: "Voucher posting attempts partitioned by voucher type and result.",
	}, []string{"type", "result"})
	movements := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ledger_movements_total",
		Help: "Ledger movements written by the posting engine.",
	})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(postings, movements)
	return &Metrics{postings: postings, movements: movements}
}

func (m *Metrics) observe(voucherType, result string, movements int) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(voucherType, result).Inc()
	if movements > 0 {
		m.movements.Add(float64(movements))
	}
}
