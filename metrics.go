package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	startCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrelay_start_total",
			Help: "Relay start requests by result.",
		},
		[]string{"result"},
	)
	shutdownCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrelay_shutdown_total",
			Help: "Relay shutdowns by termination outcome.",
		},
		[]string{"outcome"},
	)
	restartCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrelay_restart_total",
			Help: "Total number of relay restarts by reason.",
		},
		[]string{"reason"},
	)
	unexpectedExitCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llmrelay_unexpected_exit_total",
			Help: "Total number of times a confirmed relay exited on its own.",
		},
	)
	runningGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmrelay_running",
			Help: "1 while a relay is confirmed live.",
		},
	)
	uptimeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmrelay_uptime_seconds",
			Help: "Uptime of the current relay process in seconds.",
		},
	)
)

func init() {
	prometheus.MustRegister(startCounter, shutdownCounter, restartCounter, unexpectedExitCounter, runningGauge, uptimeGauge)
}

// start results
const (
	resultStarted  = "started"
	resultReused   = "reused"
	resultNotFound = "executable_not_found"
	resultTimeout  = "timeout"
	resultFatal    = "fatal_marker"
	resultExited   = "exited"
	resultError    = "error"
)
