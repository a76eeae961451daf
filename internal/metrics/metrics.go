package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/micro-ha/minirack-dashboard/internal/model"
)

const namespace = "minirack"

// Registry owns the process collectors. It is never the global default
// registry so tests can build as many as they like.
type Registry struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	fetchErrors   *prometheus.CounterVec
	devices       *prometheus.GaugeVec
	signalAvg     *prometheus.GaugeVec
	activeNets    prometheus.Gauge
	lastSuccess   prometheus.Gauge
	speedRuns     *prometheus.CounterVec
	speedResult   *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of one poll cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed device fetches per network.",
		}, []string{"network_id"}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Connected devices by network and connection type.",
		}, []string{"network_id", "connection"}),
		signalAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_avg_dbm",
			Help:      "Average wireless signal per network.",
		}, []string{"network_id"}),
		activeNets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_networks",
			Help:      "Networks included in the combined view.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_poll_timestamp_seconds",
			Help:      "Unix time of the last cycle with at least one successful fetch.",
		}),
		speedRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speedtest_runs_total",
			Help:      "Speed test runs by result.",
		}, []string{"result"}),
		speedResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speedtest_last",
			Help:      "Last successful speed test: download_mbps, upload_mbps and ping_ms.",
		}, []string{"measure"}),
	}
	r.reg.MustRegister(
		r.cycles,
		r.cycleDuration,
		r.fetchErrors,
		r.devices,
		r.signalAvg,
		r.activeNets,
		r.lastSuccess,
		r.speedRuns,
		r.speedResult,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveCycle records one finished cycle.
func (r *Registry) ObserveCycle(took time.Duration, succeeded, failed int) {
	if r == nil {
		return
	}
	result := "ok"
	switch {
	case succeeded == 0 && failed > 0:
		result = "failed"
	case failed > 0:
		result = "partial"
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(took.Seconds())
}

// FetchFailed counts one failed fetch for networkID.
func (r *Registry) FetchFailed(networkID string) {
	if r == nil {
		return
	}
	r.fetchErrors.WithLabelValues(networkID).Inc()
}

// SetNetworks replaces the per-network gauges with the current cache state.
func (r *Registry) SetNetworks(networks []model.NetworkCache, combined model.CombinedCache) {
	if r == nil {
		return
	}
	r.devices.Reset()
	r.signalAvg.Reset()
	for _, n := range networks {
		r.devices.WithLabelValues(n.NetworkID, string(model.ConnectionWireless)).Set(float64(n.WirelessDevices))
		r.devices.WithLabelValues(n.NetworkID, string(model.ConnectionWired)).Set(float64(n.WiredDevices))
		if n.SignalAvg != nil {
			r.signalAvg.WithLabelValues(n.NetworkID).Set(*n.SignalAvg)
		}
	}
	r.activeNets.Set(float64(combined.ActiveNetworks))
	if combined.LastSuccessfulUpdate != nil {
		r.lastSuccess.Set(float64(combined.LastSuccessfulUpdate.Unix()))
	}
}

// ObserveSpeedtest records a finished speed test. Failed runs leave the last
// measurements in place.
func (r *Registry) ObserveSpeedtest(downloadMbps, uploadMbps, pingMs float64, failed bool) {
	if r == nil {
		return
	}
	if failed {
		r.speedRuns.WithLabelValues("failed").Inc()
		return
	}
	r.speedRuns.WithLabelValues("ok").Inc()
	r.speedResult.WithLabelValues("download_mbps").Set(downloadMbps)
	r.speedResult.WithLabelValues("upload_mbps").Set(uploadMbps)
	r.speedResult.WithLabelValues("ping_ms").Set(pingMs)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
