// Package metrics holds the Prometheus instruments shared by the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payloadbench"

// Metrics groups every instrument exported by one server instance.
type Metrics struct {
	registry *prometheus.Registry

	// ChannelOps tracks inbound channel events by event name.
	ChannelOps *OpMetric

	// EncodeOps tracks payload encoding by kind.
	EncodeOps *OpMetric

	PayloadBytes     *prometheus.HistogramVec
	ConnectedClients prometheus.Gauge
	DeliveryDropped  prometheus.Counter
	CacheResponses   *prometheus.CounterVec
	BrokerPublishes  *prometheus.CounterVec
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry:   reg,
		ChannelOps: NewOpMetric(reg, namespace+"_channel_ops", "event"),
		EncodeOps:  NewOpMetric(reg, namespace+"_encode_ops", "kind"),
		PayloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payload_bytes",
			Help:      "Size of encoded response payloads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 14),
		}, []string{"kind"}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_clients",
			Help:      "Number of connected channel clients.",
		}),
		DeliveryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_delivery_dropped_total",
			Help:      "Responses dropped because the client was gone or saturated.",
		}),
		CacheResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_responses_total",
			Help:      "Conditional cache resource responses by state.",
		}, []string{"state"}),
		BrokerPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publishes_total",
			Help:      "Broker fan-out publishes by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.PayloadBytes,
		m.ConnectedClients,
		m.DeliveryDropped,
		m.CacheResponses,
		m.BrokerPublishes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
