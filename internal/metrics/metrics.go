// Package metrics exposes relay counters in Prometheus format. Metrics live
// in a dedicated registry so tests and embedders never collide with the
// global default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.klb.dev/vdclip/internal/message"
)

const namespace = "vdclip"

// Collector holds every relay metric.
type Collector struct {
	registry *prometheus.Registry

	guestConnections prometheus.Gauge
	chunksReceived   prometheus.Counter
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	framingErrors    prometheus.Counter
	sendsDropped     prometheus.Counter
	broadcasts       prometheus.Counter
	hostPushes       *prometheus.CounterVec
	hostChanges      prometheus.Counter
}

// New creates a Collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		guestConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "guest_connections",
			Help:      "Number of connected guest endpoints.",
		}),
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Transport chunks read from guests.",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Reassembled messages received from guests by type.",
		}, []string{"type"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages written to guests by type.",
		}, []string{"type"}),
		framingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "framing_errors_total",
			Help:      "Guest connections closed because of framing errors.",
		}),
		sendsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_dropped_total",
			Help:      "Outbound messages dropped because a guest queue was full or closed.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grab_broadcasts_total",
			Help:      "Clipboard grab broadcasts triggered by host changes.",
		}),
		hostPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_pushes_total",
			Help:      "Guest clipboard text pushed to the host clipboard by result.",
		}, []string{"result"}),
		hostChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_changes_total",
			Help:      "Host clipboard changes accepted from the side channel.",
		}),
	}

	reg.MustRegister(
		c.guestConnections,
		c.chunksReceived,
		c.messagesReceived,
		c.messagesSent,
		c.framingErrors,
		c.sendsDropped,
		c.broadcasts,
		c.hostPushes,
		c.hostChanges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) GuestConnected()    { c.guestConnections.Inc() }
func (c *Collector) GuestDisconnected() { c.guestConnections.Dec() }
func (c *Collector) ChunkReceived()     { c.chunksReceived.Inc() }
func (c *Collector) FramingError()      { c.framingErrors.Inc() }
func (c *Collector) SendDropped()       { c.sendsDropped.Inc() }
func (c *Collector) Broadcast()         { c.broadcasts.Inc() }
func (c *Collector) HostChanged()       { c.hostChanges.Inc() }

func (c *Collector) MessageReceived(t message.Type) {
	c.messagesReceived.WithLabelValues(t.String()).Inc()
}

func (c *Collector) MessageSent(t message.Type) {
	c.messagesSent.WithLabelValues(t.String()).Inc()
}

// HostPush records one push to the host clipboard.
func (c *Collector) HostPush(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.hostPushes.WithLabelValues(result).Inc()
}
