package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	req := require.New(t)
	m := New(prometheus.NewRegistry())

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.MessageSent()
	m.Event("send_message")
	m.Event("send_message")

	req.Equal(1.0, testutil.ToFloat64(m.Connections))
	req.Equal(1.0, testutil.ToFloat64(m.MessagesSent))
	req.Equal(2.0, testutil.ToFloat64(m.WSEvents.WithLabelValues("send_message")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ConnOpened()
		m.MessageSent()
		m.StorageError("append")
		m.Dropped()
	})
}

func TestMetrics_Handler(t *testing.T) {
	req := require.New(t)
	m := New(prometheus.NewRegistry())
	m.MessageSent()

	app := fiber.New()
	app.Get("/metrics", m.Handler())
	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	req.NoError(err)
	body, _ := io.ReadAll(resp.Body)
	req.Contains(string(body), "chat_messages_sent_total 1")
}
