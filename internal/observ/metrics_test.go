package observ

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterLabelOrderIsCanonical(t *testing.T) {
	IncCounter("canon_test_total", map[string]string{"b": "2", "a": "1"})
	IncCounter("canon_test_total", map[string]string{"a": "1", "b": "2"})
	require.Equal(t, int64(2), CounterValue("canon_test_total", map[string]string{"b": "2", "a": "1"}))
}

func TestCounterWithoutLabels(t *testing.T) {
	IncCounter("plain_test_total", nil)
	IncCounter("plain_test_total", nil)
	require.Equal(t, int64(2), CounterValue("plain_test_total", nil))
	require.Equal(t, int64(0), CounterValue("never_incremented_total", nil))
}

func TestSnapshotKeys(t *testing.T) {
	IncCounter("snap_test_total", map[string]string{"kind": "x"})
	SetGauge("snap_test_gauge", 3.5, nil)

	counters := Snapshot()
	require.Equal(t, int64(1), counters["snap_test_total{kind=x}"])

	gauges := SnapshotGauges()
	require.Equal(t, 3.5, gauges["snap_test_gauge"])
}

func TestMetricsEndpoint(t *testing.T) {
	IncCounter("endpoint_test_total", nil)
	SetGauge("endpoint_test_gauge", 1.25, nil)
	m := NewMetricsServer(":0")

	rec := httptest.NewRecorder()
	m.handleMetrics(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	var body struct {
		Counters map[string]int64   `json:"counters"`
		Gauges   map[string]float64 `json:"gauges"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(1), body.Counters["endpoint_test_total"])
	require.Equal(t, 1.25, body.Gauges["endpoint_test_gauge"])

	rec = httptest.NewRecorder()
	m.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}
