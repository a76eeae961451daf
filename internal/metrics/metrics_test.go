package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/micro-ha/minirack-dashboard/internal/model"
)

func TestObserveCycleLabelsResult(t *testing.T) {
	r := NewRegistry()
	r.ObserveCycle(time.Second, 2, 0)
	r.ObserveCycle(time.Second, 1, 1)
	r.ObserveCycle(time.Second, 0, 2)
	r.ObserveCycle(time.Second, 0, 2)

	tests := []struct {
		result string
		want   float64
	}{
		{"ok", 1},
		{"partial", 1},
		{"failed", 2},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(r.cycles.WithLabelValues(tt.result)); got != tt.want {
			t.Fatalf("cycles{result=%q} = %v, want %v", tt.result, got, tt.want)
		}
	}
}

func TestSetNetworksReplacesGauges(t *testing.T) {
	r := NewRegistry()
	signal := -61.5
	r.SetNetworks([]model.NetworkCache{
		{NetworkID: "1001", Snapshot: model.Snapshot{WirelessDevices: 3, WiredDevices: 1, SignalAvg: &signal}},
		{NetworkID: "2002", Snapshot: model.Snapshot{WiredDevices: 2}},
	}, model.CombinedCache{ActiveNetworks: 2})

	if got := testutil.ToFloat64(r.devices.WithLabelValues("1001", "Wireless")); got != 3 {
		t.Fatalf("wireless devices = %v", got)
	}
	if got := testutil.ToFloat64(r.signalAvg.WithLabelValues("1001")); got != signal {
		t.Fatalf("signal avg = %v", got)
	}

	r.SetNetworks([]model.NetworkCache{{NetworkID: "1001"}}, model.CombinedCache{ActiveNetworks: 1})
	if n := testutil.CollectAndCount(r.devices); n != 2 {
		t.Fatalf("expected removed network gauges to be dropped, got %d series", n)
	}
	if got := testutil.ToFloat64(r.activeNets); got != 1 {
		t.Fatalf("active networks = %v", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	r := NewRegistry()
	r.FetchFailed("1001")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `minirack_fetch_errors_total{network_id="1001"} 1`) {
		t.Fatalf("fetch error counter missing from output:\n%s", body)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.ObserveCycle(time.Second, 1, 0)
	r.FetchFailed("1001")
	r.SetNetworks(nil, model.CombinedCache{})
}

func TestObserveSpeedtestKeepsLastGoodResult(t *testing.T) {
	r := NewRegistry()
	r.ObserveSpeedtest(250.5, 40.2, 12.3, false)
	r.ObserveSpeedtest(0, 0, 0, true)

	if got := testutil.ToFloat64(r.speedResult.WithLabelValues("download_mbps")); got != 250.5 {
		t.Fatalf("download = %v", got)
	}
	if got := testutil.ToFloat64(r.speedResult.WithLabelValues("ping_ms")); got != 12.3 {
		t.Fatalf("ping = %v", got)
	}
	if got := testutil.ToFloat64(r.speedRuns.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed runs = %v", got)
	}
	var nilRegistry *Registry
	nilRegistry.ObserveSpeedtest(1, 1, 1, false)
}
