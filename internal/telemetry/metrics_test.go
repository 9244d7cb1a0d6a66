package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

func TestMetrics_Lifecycle(t *testing.T) {
	m := New()
	p := bridge.Presence{DeviceID: "x", Generation: "g"}

	m.GenerationStarted(p)
	m.GenerationStarted(bridge.Presence{DeviceID: "y", Generation: "h"})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.present))

	m.GenerationEnded(p, bridge.EndReasonLost)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.present))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.generations.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues(bridge.EndReasonLost)))
}

func TestMetrics_Traffic(t *testing.T) {
	m := New()

	m.Published("x", mqtt.SuffixConnected, []byte("2"), nil)
	m.Published("x", mqtt.SuffixStatusChannel, nil, errors.New("offline"))
	m.CommandDispatched("x", mqtt.SuffixSetIRCode, nil)
	m.CommandDispatched("x", mqtt.SuffixSetIRCode, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("connected", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("status/channel", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("set/ircode", "ok")))
}

func TestMetrics_BrokerConnection(t *testing.T) {
	m := New()

	m.BrokerConnection("x", true)
	m.BrokerConnection("y", true)
	m.BrokerConnection("x", false)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.broker.WithLabelValues("x")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broker.WithLabelValues("y")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest("/health", http.MethodGet, http.StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `tivoremote_http_requests_total{method="GET",route="/health",status="200"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
