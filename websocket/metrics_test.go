package websocket

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_NilRegistererDisablesInstrumentation(t *testing.T) {
	m := NewMetrics(nil, "test")
	if m != nil {
		t.Fatal("expected nil Metrics for a nil Registerer")
	}
	// Nil-safe methods must not panic.
	m.connOpened()
	m.connClosed(CloseNormalClosure)
	m.bytes(10)
	m.frameOpcode(OpText)
}

func TestMetrics_CountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")
	if m == nil {
		t.Fatal("NewMetrics returned nil with a real Registerer")
	}

	m.connOpened()
	m.connOpened()
	m.connClosed(CloseNormalClosure)
	m.frameOpcode(OpText)
	m.frameOpcode(OpText)
	m.bytes(42)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	counters := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			counters[fam.GetName()] += metricValue(metric)
		}
	}

	if counters["test_websocket_connections_opened_total"] != 2 {
		t.Errorf("connections_opened_total = %v, want 2", counters["test_websocket_connections_opened_total"])
	}
	if counters["test_websocket_frames_received_total"] != 2 {
		t.Errorf("frames_received_total = %v, want 2", counters["test_websocket_frames_received_total"])
	}
	if counters["test_websocket_bytes_received_total"] != 42 {
		t.Errorf("bytes_received_total = %v, want 42", counters["test_websocket_bytes_received_total"])
	}
}

func metricValue(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return 0
}
