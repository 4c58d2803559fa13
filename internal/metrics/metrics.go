package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Connections   prometheus.Gauge
	MessagesSent  prometheus.Counter
	ReadReceipts  prometheus.Counter
	WSEvents      *prometheus.CounterVec
	StorageErrors *prometheus.CounterVec
	EventsDropped prometheus.Counter
	gatherer      prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted",
		}),
		ReadReceipts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "Read receipts applied",
		}),
		WSEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Inbound websocket events by type",
		}, []string{"type"}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_storage_errors_total",
			Help: "Storage failures by operation",
		}, []string{"op"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_frames_dropped_total",
			Help: "Outbound frames dropped because a client was slow",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Connections, m.MessagesSent, m.ReadReceipts, m.WSEvents, m.StorageErrors, m.EventsDropped)
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) ReceiptApplied() {
	if m != nil {
		m.ReadReceipts.Inc()
	}
}

func (m *Metrics) Event(kind string) {
	if m != nil {
		m.WSEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) StorageError(op string) {
	if m != nil {
		m.StorageErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

// Handler serves the registry for Prometheus scraping.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
