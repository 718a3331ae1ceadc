package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tc_eqpsim/internal/shared/types"
)

var (
	registry *prometheus.Registry

	// Byte counters are shared with shared.CountedConn and exported through CounterFuncs.
	bytesRx atomic.Uint64
	bytesTx atomic.Uint64

	framesRx       atomic.Uint64
	framesTx       atomic.Uint64
	activeSessions atomic.Int64

	// Sessions opened, by EQP mode. Watch for: ACTIVE churn = reconnect loops.
	SessionsTotal *prometheus.CounterVec

	// Connections closed before a session started (limit reached, pool empty).
	ConnectionsRejectedTotal *prometheus.CounterVec

	// Handshake outcomes: completed, timeout, plan_missing.
	HandshakesTotal *prometheus.CounterVec

	// Fault steps applied, by fault type.
	FaultsAppliedTotal *prometheus.CounterVec

	// Fault effects on outbound frames: delayed, dropped, corrupted, fragmented.
	FaultEffectsTotal *prometheus.CounterVec

	// WAIT steps that ran out of time.
	WaitTimeoutsTotal prometheus.Counter

	// Scenarios that reached their last step.
	ScenariosCompletedTotal prometheus.Counter

	// ACTIVE reconnect attempts scheduled by the backoff policy.
	ReconnectsTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eqpsim_sessions_total",
			Help: "Total number of EQP sessions started",
		},
		[]string{"mode"},
	)
	ConnectionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eqpsim_connections_rejected_total",
			Help: "Inbound connections closed before a session was created",
		},
		[]string{"endpoint", "reason"},
	)
	HandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eqpsim_handshakes_total",
			Help: "INITIALIZE handshake outcomes",
		},
		[]string{"result"},
	)
	FaultsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eqpsim_faults_applied_total",
			Help: "Fault steps executed by scenarios",
		},
		[]string{"type"},
	)
	FaultEffectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eqpsim_fault_effects_total",
			Help: "Outbound frames affected by an active fault",
		},
		[]string{"effect"},
	)
	WaitTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eqpsim_wait_timeouts_total",
			Help: "WAIT steps that timed out and closed the connection",
		},
	)
	ScenariosCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eqpsim_scenarios_completed_total",
			Help: "Scenario runs that reached the last step",
		},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eqpsim_reconnects_total",
			Help: "ACTIVE reconnect attempts",
		},
	)

	registry.MustRegister(
		SessionsTotal, ConnectionsRejectedTotal, HandshakesTotal,
		FaultsAppliedTotal, FaultEffectsTotal,
		WaitTimeoutsTotal, ScenariosCompletedTotal, ReconnectsTotal,
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "eqpsim_rx_bytes_total", Help: "Bytes read from TC connections"},
			func() float64 { return float64(bytesRx.Load()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "eqpsim_tx_bytes_total", Help: "Bytes written to TC connections"},
			func() float64 { return float64(bytesTx.Load()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "eqpsim_rx_frames_total", Help: "Frames decoded from TC connections"},
			func() float64 { return float64(framesRx.Load()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "eqpsim_tx_frames_total", Help: "Frames handed to the outbound sender"},
			func() float64 { return float64(framesTx.Load()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "eqpsim_active_sessions", Help: "Sessions currently open"},
			func() float64 { return float64(activeSessions.Load()) },
		),
	)
}

// ByteCounters returns the process wide rx/tx byte counters.
func ByteCounters() (rx, tx *atomic.Uint64) {
	return &bytesRx, &bytesTx
}

func RecordFrameRx() { framesRx.Add(1) }

func RecordFrameTx() { framesTx.Add(1) }

// SessionOpened counts a new session for mode and bumps the active gauge.
func SessionOpened(mode types.EqpMode) {
	SessionsTotal.WithLabelValues(string(mode)).Inc()
	activeSessions.Add(1)
}

func SessionClosed() { activeSessions.Add(-1) }

// Snapshot returns the counters shown by /api/status and the dashboard.
func Snapshot() types.Metrics {
	return types.Metrics{
		ActiveSessions: activeSessions.Load(),
		FramesRx:       framesRx.Load(),
		FramesTx:       framesTx.Load(),
		BytesRx:        bytesRx.Load(),
		BytesTx:        bytesTx.Load(),
	}
}

// Handler returns an http.Handler that serves simulator and runtime metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
