package metrics

// Prometheus bridge implementing Provider directly against
// github.com/prometheus/client_golang, for deployments that scrape
// /metrics rather than push through an OTEL collector. Both bridges
// satisfy the same Provider contract so callers (commit.Pipeline,
// engine.Engine) never depend on which backend is wired.

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProviderOptions configures the registry instruments are
// registered against.
type PrometheusProviderOptions struct {
	Registry *prometheus.Registry
}

// NewPrometheusProvider returns a Provider registering instruments on
// opts.Registry (a fresh prometheus.NewRegistry() if nil).
func NewPrometheusProvider(opts PrometheusProviderOptions) Provider {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &promProvider{reg: reg}
}

type promProvider struct {
	reg *prometheus.Registry
}

func promName(c CommonOpts) (namespace, subsystem, name string) {
	return c.Namespace, c.Subsystem, c.Name
}

func (p *promProvider) NewCounter(opts CounterOpts) Counter {
	ns, sub, name := promName(opts.CommonOpts)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: name, Help: opts.Help,
	}, opts.Labels)
	if err := p.reg.Register(vec); err != nil {
		return noopCounter{}
	}
	return &promCounter{vec: vec}
}

func (p *promProvider) NewGauge(opts GaugeOpts) Gauge {
	ns, sub, name := promName(opts.CommonOpts)
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: name, Help: opts.Help,
	}, opts.Labels)
	if err := p.reg.Register(vec); err != nil {
		return noopGauge{}
	}
	return &promGauge{vec: vec}
}

func (p *promProvider) NewHistogram(opts HistogramOpts) Histogram {
	ns, sub, name := promName(opts.CommonOpts)
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, Name: name, Help: opts.Help, Buckets: buckets,
	}, opts.Labels)
	if err := p.reg.Register(vec); err != nil {
		return noopHistogram{}
	}
	return &promHistogram{vec: vec}
}

func (p *promProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(h)
	return func() Timer { return &stopwatchTimer{h: hist, start: time.Now()} }
}

func (p *promProvider) Health(ctx context.Context) error { return nil }

// MetricsHandler exposes the registry for a /metrics scrape endpoint;
// adapters/telemetryhttp looks for this method via a type assertion
// since only the Prometheus bridge has anything to scrape.
func (p *promProvider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

type promCounter struct{ vec *prometheus.CounterVec }

func (c *promCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.vec.WithLabelValues(labels...).Add(delta)
}

type promGauge struct{ vec *prometheus.GaugeVec }

func (g *promGauge) Set(value float64, labels ...string) { g.vec.WithLabelValues(labels...).Set(value) }
func (g *promGauge) Add(delta float64, labels ...string) { g.vec.WithLabelValues(labels...).Add(delta) }

type promHistogram struct{ vec *prometheus.HistogramVec }

func (h *promHistogram) Observe(value float64, labels ...string) {
	h.vec.WithLabelValues(labels...).Observe(value)
}
