// Package metrics exposes Prometheus metrics for backend calls and cache behaviour.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is a private Prometheus registry holding the SDK collectors, for
// programs that do not scrape prometheus.DefaultRegisterer.
type Registry struct {
	gatherer *prometheus.Registry
	reg      prometheus.Registerer
}

type Option func(*options)

type options struct {
	runtime bool
	labels  prometheus.Labels
}

// WithoutRuntimeCollectors leaves out the go_* and process_* families.
func WithoutRuntimeCollectors() Option {
	return func(o *options) { o.runtime = false }
}

// WithConstLabels attaches labels to every SDK series, e.g. the application id.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *options) { o.labels = labels }
}

func sdkCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		requestDuration,
		requestsTotal,
		requestsInFlight,
		cacheResultsTotal,
		cacheLatencySeconds,
		refreshesTotal,
	}
}

func NewRegistry(opts ...Option) *Registry {
	o := options{runtime: true}
	for _, opt := range opts {
		opt(&o)
	}

	root := prometheus.NewRegistry()
	var reg prometheus.Registerer = root
	if len(o.labels) > 0 {
		reg = prometheus.WrapRegistererWith(o.labels, root)
	}
	reg.MustRegister(sdkCollectors()...)
	if o.runtime {
		root.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &Registry{gatherer: root, reg: reg}
}

// Register adds an application collector; const labels apply to it too.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.reg.Register(c)
}

// Handler serves the registry, negotiating OpenMetrics when the scraper asks.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}
