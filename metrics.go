package foreach

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors updated during a run. A nil *Metrics records nothing.
type Metrics struct {
	documents *prometheus.CounterVec
	retries   *prometheus.CounterVec
	pages     *prometheus.HistogramVec
	inflight  prometheus.Gauge
}

// NewMetrics creates the run collectors and registers them with the registerer
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreach",
			Name:      "documents_total",
			Help:      "Documents processed by intent kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreach",
			Name:      "mutation_retries_total",
			Help:      "Retried mutation attempts by intent kind.",
		}, []string{"kind"}),
		pages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foreach",
			Name:      "page_fetch_seconds",
			Help:      "Latency of container page fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foreach",
			Name:      "documents_inflight",
			Help:      "Documents currently being transformed or mutated.",
		}),
	}
	for _, c := range []prometheus.Collector{m.documents, m.retries, m.pages, m.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) observeResult(r RunResult) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(r.Kind.String(), outcome(r.Success)).Inc()
}

func (m *Metrics) observeRetry(kind Kind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observePage(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(outcome(err == nil)).Observe(elapsed.Seconds())
}

func (m *Metrics) trackInflight(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}
