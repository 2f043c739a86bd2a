// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the parser servers.
//
// All methods are safe on a nil *Metrics, so parsers and servers can be used
// without instrumentation.
package metrics

import (
	"time"

	"github.com/absmach/sockparse/pkg/header"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const otherHeader = "other"

// Metrics holds all Prometheus metrics of the servers.
type Metrics struct {
	// Connection metrics
	ActiveConnections  *prometheus.GaugeVec
	TotalConnections   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec
	RejectedConns      *prometheus.CounterVec

	// Parser metrics
	BytesParsed *prometheus.CounterVec
	ParseErrors *prometheus.CounterVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Protocol-specific metrics
	MQTTPackets   *prometheus.CounterVec
	HTTPExchanges *prometheus.CounterVec
	HTTPHeaders   *prometheus.CounterVec
}

// New registers all counters, gauges and histograms with reg. A nil reg uses the
// default Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "sockparse"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently active connections",
			},
			[]string{"protocol", "transport"},
		),
		RejectedConns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_connections_total",
				Help:      "Total number of connections refused by the rate limiter",
			},
			[]string{"protocol", "transport"},
		),
		TotalConnections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of connections",
			},
			[]string{"protocol", "transport", "status"},
		),
		ConnectionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"protocol", "transport"},
		),
		BytesParsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_parsed_total",
				Help:      "Total number of bytes fed to the parsers",
			},
			[]string{"protocol"},
		),
		ParseErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_errors_total",
				Help:      "Total number of parse errors by class",
			},
			[]string{"protocol", "class"},
		),
		AuthFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of rejected authorizations",
			},
			[]string{"protocol", "type"},
		),
		MQTTPackets: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mqtt_packets_total",
				Help:      "Total number of MQTT packets",
			},
			[]string{"packet_type", "direction"},
		),
		HTTPExchanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_exchanges_total",
				Help:      "Total number of completed HTTP exchanges",
			},
			[]string{"method"},
		),
		HTTPHeaders: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_headers_total",
				Help:      "Total number of HTTP header fields by name",
			},
			[]string{"name"},
		),
	}
}

// ObserveConnection tracks a connection lifecycle.
func (m *Metrics) ObserveConnection(protocol, transport string, f func() error) error {
	if m == nil {
		return f()
	}
	m.ActiveConnections.WithLabelValues(protocol, transport).Inc()
	defer m.ActiveConnections.WithLabelValues(protocol, transport).Dec()

	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		m.ConnectionDuration.WithLabelValues(protocol, transport).Observe(duration)
	}()

	err := f()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TotalConnections.WithLabelValues(protocol, transport, status).Inc()

	return err
}

// Rejected counts a connection refused before it reached a parser.
func (m *Metrics) Rejected(protocol, transport string) {
	if m == nil {
		return
	}
	m.RejectedConns.WithLabelValues(protocol, transport).Inc()
}

// Parsed counts n bytes handed to a parser.
func (m *Metrics) Parsed(protocol string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.BytesParsed.WithLabelValues(protocol).Add(float64(n))
}

// ParseError counts a parse error of the given class.
func (m *Metrics) ParseError(protocol, class string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(protocol, class).Inc()
}

// AuthFailure counts a rejected Auth* call.
func (m *Metrics) AuthFailure(protocol, kind string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(protocol, kind).Inc()
}

// MQTTPacket counts an MQTT control packet.
func (m *Metrics) MQTTPacket(packetType, direction string) {
	if m == nil {
		return
	}
	m.MQTTPackets.WithLabelValues(packetType, direction).Inc()
}

// HTTPExchange counts a completed HTTP exchange.
func (m *Metrics) HTTPExchange(method string) {
	if m == nil {
		return
	}
	m.HTTPExchanges.WithLabelValues(method).Inc()
}

// HTTPHeader counts a header field. Names outside the known header corpus are
// counted as "other" to keep the label set bounded.
func (m *Metrics) HTTPHeader(name []byte) {
	if m == nil {
		return
	}
	label, ok := header.Canonical(name)
	if !ok {
		label = otherHeader
	}
	m.HTTPHeaders.WithLabelValues(label).Inc()
}
