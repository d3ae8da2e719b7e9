package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality: command and error labels come from fixed
// vocabularies, never from client input.
var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manaclock_commands_total",
		Help: "Inbound commands processed",
	}, []string{"type"})

	commandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manaclock_command_errors_total",
		Help: "Commands rejected, by error kind",
	}, []string{"kind"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manaclock_sessions_active",
		Help: "Sessions currently resident in the registry",
	})

	clientsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manaclock_clients_active",
		Help: "Connected clients",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manaclock_tick_duration_seconds",
		Help:    "Time spent in one session tick op",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	saveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manaclock_save_latency_seconds",
		Help:    "Persistence write latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	saveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manaclock_save_errors_total",
		Help: "Persistence writes that failed",
	})

	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manaclock_messages_dropped_total",
		Help: "Outbound messages dropped on closed or overflowing clients",
	})

	sessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manaclock_sessions_reaped_total",
		Help: "Sessions removed by the idle reaper",
	})

	relayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manaclock_relay_messages_total",
		Help: "Cross-instance pub/sub messages",
	}, []string{"direction"}) // "published" or "received"
)

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
