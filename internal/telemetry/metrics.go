// Package telemetry exposes bridge activity as Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

const namespace = "tivoremote"

// Metrics is a bridge.Observer backed by its own Prometheus registry.
//
// Thread Safety: All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	present      prometheus.Gauge
	generations  *prometheus.CounterVec
	published    *prometheus.CounterVec
	commands     *prometheus.CounterVec
	broker       *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
}

// New creates and registers the bridge collectors plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		present: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_present",
			Help:      "Devices with an active generation.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Device generations by lifecycle event (started, lost, shutdown).",
		}, []string{"event"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_published_total",
			Help:      "Status messages published by topic suffix and result.",
		}, []string{"topic", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Bus commands dispatched to devices by topic suffix and result.",
		}, []string{"topic", "result"}),
		broker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the device's bus connection is up, 0 otherwise.",
		}, []string{"device_id"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status API requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		m.present, m.generations, m.published, m.commands, m.broker, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GenerationStarted implements bridge.Observer.
func (m *Metrics) GenerationStarted(bridge.Presence) {
	m.present.Inc()
	m.generations.WithLabelValues("started").Inc()
}

// GenerationEnded implements bridge.Observer.
func (m *Metrics) GenerationEnded(_ bridge.Presence, reason string) {
	m.present.Dec()
	m.generations.WithLabelValues(reason).Inc()
}

// Published implements bridge.Observer.
func (m *Metrics) Published(_ string, suffix mqtt.Suffix, _ []byte, err error) {
	m.published.WithLabelValues(string(suffix), result(err)).Inc()
}

// CommandDispatched implements bridge.Observer.
func (m *Metrics) CommandDispatched(_ string, suffix mqtt.Suffix, err error) {
	m.commands.WithLabelValues(string(suffix), result(err)).Inc()
}

// BrokerConnection implements bridge.Observer.
func (m *Metrics) BrokerConnection(deviceID string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.broker.WithLabelValues(deviceID).Set(v)
}

// ObserveRequest counts one HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
