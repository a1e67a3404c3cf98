package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial link.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the serial link.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total CAN frames received from the TCP client.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total CAN frames sent to the TCP client.",
	})
	RxQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_rx_dropped_frames_total",
		Help: "Total received CAN frames dropped because the receive queue was full.",
	})
	RxQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_rx_queue_depth",
		Help: "Frames waiting in the receive queue.",
	})
	Sessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_total",
		Help: "Total client sessions accepted.",
	})
	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_active",
		Help: "1 while a client session is running, 0 otherwise.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (unsupported length, invalid data length, bad checksum).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrListen         = "listen"
	ErrAccept         = "accept"
	ErrBusTx          = "bus_tx"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANRead  = "socketcan_read"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSerialRx    uint64
	localSerialTx    uint64
	localSocketCANTx uint64
	localSocketCANRx uint64
	localTCPRx       uint64
	localTCPTx       uint64
	localRxDrop      uint64
	localRxDepth     uint64
	localSessions    uint64
	localActive      uint64
	localErrors      uint64
	localMalformed   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx    uint64
	SocketCANRx uint64
	SerialTx    uint64
	SocketCANTx uint64
	TCPRx       uint64
	TCPTx       uint64
	RxDrops     uint64
	RxDepth     uint64
	Sessions    uint64
	Active      uint64
	Errors      uint64 // sum across error labels
	Malformed   uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:    atomic.LoadUint64(&localSerialRx),
		SocketCANRx: atomic.LoadUint64(&localSocketCANRx),
		SerialTx:    atomic.LoadUint64(&localSerialTx),
		SocketCANTx: atomic.LoadUint64(&localSocketCANTx),
		TCPRx:       atomic.LoadUint64(&localTCPRx),
		TCPTx:       atomic.LoadUint64(&localTCPTx),
		RxDrops:     atomic.LoadUint64(&localRxDrop),
		RxDepth:     atomic.LoadUint64(&localRxDepth),
		Sessions:    atomic.LoadUint64(&localSessions),
		Active:      atomic.LoadUint64(&localActive),
		Errors:      atomic.LoadUint64(&localErrors),
		Malformed:   atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

// IncSocketCANRx increments SocketCAN receive counters.
func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

// IncSocketCANTx increments SocketCAN transmit counters.
func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func IncTCPTx() {
	TCPTxFrames.Inc()
	atomic.AddUint64(&localTCPTx, 1)
}

func IncRxDrop() {
	RxQueueDropped.Inc()
	atomic.AddUint64(&localRxDrop, 1)
}

// SetRxQueueDepth records the receive queue length.
func SetRxQueueDepth(n int) {
	RxQueueDepth.Set(float64(n))
	atomic.StoreUint64(&localRxDepth, uint64(n))
}

// SessionStarted bumps the session counter and raises the active gauge.
func SessionStarted() {
	Sessions.Inc()
	atomic.AddUint64(&localSessions, 1)
	SessionActive.Set(1)
	atomic.StoreUint64(&localActive, 1)
}

// SessionEnded lowers the active gauge.
func SessionEnded() {
	SessionActive.Set(0)
	atomic.StoreUint64(&localActive, 0)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrListen, ErrAccept, ErrBusTx,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
