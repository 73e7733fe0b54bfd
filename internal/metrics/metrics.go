// Package metrics exposes chat session and reference server counters on a private
// prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harun/agencychat/pkg/chat"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ConnectAttemptsTotal    *prometheus.CounterVec
	SessionPhase            *prometheus.GaugeVec
	MessagesSentTotal       prometheus.Counter
	MessagesReceivedTotal   prometheus.Counter
	TransportErrorsTotal    prometheus.Counter
	SessionClosesTotal      prometheus.Counter
	CredentialRotationTotal prometheus.Counter

	// Server metrics
	ServerRepliesTotal *prometheus.CounterVec
	ServerReplySeconds prometheus.Histogram
}

var _ chat.Recorder = (*Metrics)(nil)

var phases = []chat.Phase{chat.PhaseIdle, chat.PhaseConnecting, chat.PhaseOpen}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ConnectAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_connect_attempts_total",
				Help: "Total number of session connect attempts by result",
			},
			[]string{"result"},
		),
		SessionPhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chat_session_phase",
				Help: "1 for the current session phase, 0 otherwise",
			},
			[]string{"phase"},
		),
		MessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_messages_sent_total",
				Help: "Total number of messages emitted by the session",
			},
		),
		MessagesReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_messages_received_total",
				Help: "Total number of messages delivered to handlers",
			},
		),
		TransportErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_transport_errors_total",
				Help: "Total number of transport and open errors",
			},
		),
		SessionClosesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_session_closes_total",
				Help: "Total number of session closes, remote or local",
			},
		),
		CredentialRotationTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_credential_rotations_total",
				Help: "Total number of observed token file rotations",
			},
		),

		ServerRepliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_server_replies_total",
				Help: "Total number of server replies by status",
			},
			[]string{"status"},
		),
		ServerReplySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chat_server_reply_duration_seconds",
				Help:    "Time spent producing a reply",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		m.ConnectAttemptsTotal,
		m.SessionPhase,
		m.MessagesSentTotal,
		m.MessagesReceivedTotal,
		m.TransportErrorsTotal,
		m.SessionClosesTotal,
		m.CredentialRotationTotal,
		m.ServerRepliesTotal,
		m.ServerReplySeconds,
	)

	m.PhaseChanged(chat.PhaseIdle)

	return m
}

// ConnectAttempt implements chat.Recorder.
func (m *Metrics) ConnectAttempt(result string) {
	m.ConnectAttemptsTotal.WithLabelValues(result).Inc()
}

// PhaseChanged implements chat.Recorder.
func (m *Metrics) PhaseChanged(phase chat.Phase) {
	for _, p := range phases {
		value := 0.0
		if p == phase {
			value = 1
		}
		m.SessionPhase.WithLabelValues(p.String()).Set(value)
	}
}

// MessageSent implements chat.Recorder.
func (m *Metrics) MessageSent() { m.MessagesSentTotal.Inc() }

// MessageReceived implements chat.Recorder.
func (m *Metrics) MessageReceived() { m.MessagesReceivedTotal.Inc() }

// TransportError implements chat.Recorder.
func (m *Metrics) TransportError() { m.TransportErrorsTotal.Inc() }

// Closed implements chat.Recorder.
func (m *Metrics) Closed() { m.SessionClosesTotal.Inc() }

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
