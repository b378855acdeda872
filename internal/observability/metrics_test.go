package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordTrade("buy", "success", 150*time.Millisecond)
	m.RecordTrade("buy", "failed", time.Second)
	m.RecordTrade("sell", "success", time.Second)
	m.RecordEventSkipped("allow_list")
	m.RecordReconnect()
	m.AddPendingSells(2)
	m.AddPendingSells(-1)
	m.SetMonitorPhase("streaming")
	m.SetSniperRunning(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("buy", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("buy", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsSkipped.WithLabelValues("allow_list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingSells))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorPhase.WithLabelValues("streaming")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MonitorPhase.WithLabelValues("stopped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SniperRunning))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordTrade("buy", "success", time.Second)
	m.RecordNotification(time.Now())
	m.SetMonitorPhase("stopped")
	m.AddPendingSells(1)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// two instances must not collide on registration
	NewMetrics("dup", prometheus.NewRegistry())
	NewMetrics("dup", prometheus.NewRegistry())
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.RecordEventDetected()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_sniper_events_detected_total 1")
}
