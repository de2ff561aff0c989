// Package metrics exposes bridge activity as Prometheus series. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "topicbridge"

// Failure stages.
const (
	StageClassify = "classify"
	StageConnect  = "connect"
	StageRelay    = "relay"
)

// Connect attempt results.
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// Relay directions.
const (
	DirInbound  = "inbound"
	DirOutbound = "outbound"
)

type Metrics struct {
	BridgesSpawned  *prometheus.CounterVec
	BridgeFailures  *prometheus.CounterVec
	ConnectAttempts *prometheus.CounterVec
	FramesRelayed   *prometheus.CounterVec
	DiscoveryScans  prometheus.Counter
	RegistryEntries prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BridgesSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridges_spawned_total",
			Help:      "Bridge tasks started, by action.",
		}, []string{"action"}),
		BridgeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_failures_total",
			Help:      "Bridges that ended with an error, by stage.",
		}, []string{"stage"}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Rendezvous attempts, by result.",
		}, []string{"result"}),
		FramesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Payloads moved between the local domain and the overlay.",
		}, []string{"direction"}),
		DiscoveryScans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_scans_total",
			Help:      "Topic enumeration passes.",
		}),
		RegistryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Topics recorded in the bridge registry.",
		}),
	}
	reg.MustRegister(m.BridgesSpawned, m.BridgeFailures, m.ConnectAttempts,
		m.FramesRelayed, m.DiscoveryScans, m.RegistryEntries)
	return m
}

func (m *Metrics) Spawned(action string) {
	if m != nil {
		m.BridgesSpawned.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) Failed(stage string) {
	if m != nil {
		m.BridgeFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) Attempt(result string) {
	if m != nil {
		m.ConnectAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Relayed(direction string) {
	if m != nil {
		m.FramesRelayed.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) Scanned() {
	if m != nil {
		m.DiscoveryScans.Inc()
	}
}

func (m *Metrics) Entries(n int) {
	if m != nil {
		m.RegistryEntries.Set(float64(n))
	}
}

// Handler serves the series registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
