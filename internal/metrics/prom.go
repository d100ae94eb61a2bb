package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatmap/internal/model"
)

// Prom owns a private registry so several pipelines (and tests) can coexist in one process.
type Prom struct {
	registry *prometheus.Registry

	fetchTotal   *prometheus.CounterVec
	emitted      *prometheus.CounterVec
	batches      *prometheus.CounterVec
	backoffGauge *prometheus.GaugeVec
	seenGauge    *prometheus.GaugeVec
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Prom{
		registry: reg,
		fetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmap",
			Name:      "fetch_total",
			Help:      "Fetch attempts per source by result",
		}, []string{"source", "result"}),
		emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmap",
			Name:      "records_emitted_total",
			Help:      "Records emitted downstream per source and batch kind",
		}, []string{"source", "kind"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmap",
			Name:      "batches_total",
			Help:      "Batches emitted per source by status",
		}, []string{"source", "status"}),
		backoffGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "threatmap",
			Name:      "backoff_seconds",
			Help:      "Current rate-limit backoff interval per source",
		}, []string{"source"}),
		seenGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "threatmap",
			Name:      "seen_identities",
			Help:      "Identities held by each source's seen-set",
		}, []string{"source"}),
	}
}

func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prom) fetch(source, result string) {
	if p == nil {
		return
	}
	p.fetchTotal.WithLabelValues(source, result).Inc()
}

func (p *Prom) backoff(source string, d time.Duration) {
	if p == nil {
		return
	}
	p.backoffGauge.WithLabelValues(source).Set(d.Seconds())
}

func (p *Prom) batch(b model.Batch) {
	if p == nil {
		return
	}
	p.batches.WithLabelValues(b.Source, string(b.Status)).Inc()
	if n := b.Len(); n > 0 {
		p.emitted.WithLabelValues(b.Source, string(b.Kind)).Add(float64(n))
	}
}

func (p *Prom) seen(source string, n int) {
	if p == nil {
		return
	}
	p.seenGauge.WithLabelValues(source).Set(float64(n))
}
