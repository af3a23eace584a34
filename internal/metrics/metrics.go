package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-sniffer/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	CapturedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "captured_frames_total",
		Help: "Total CAN frames pushed into the ring buffer.",
	})
	EvictedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evicted_frames_total",
		Help: "Total frames dropped from the ring buffer to make room for newer ones.",
	})
	RingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ring_depth",
		Help: "Frames waiting in the ring buffer at the last flush.",
	})
	FlushedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flushed_batches_total",
		Help: "Total batches written to storage.",
	})
	FlushedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flushed_frames_total",
		Help: "Total frames written to storage.",
	})
	StorageBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storage_bytes_total",
		Help: "Total bytes appended to capture files.",
	})
	FileRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "file_rotations_total",
		Help: "Total capture file rollovers.",
	})
	ActiveFile = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_file_index",
		Help: "Index of the capture file currently written.",
	})
	NetworkBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "network_batches_total",
		Help: "Total batches delivered to the remote sink.",
	})
	NetworkDisabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "network_disabled",
		Help: "1 once network delivery was disabled for the rest of the run.",
	})
	StatusSignals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "status_signal",
		Help: "Status indicator state (1 on, 0 off).",
	}, []string{"signal"})
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
		Help: "Total rejected malformed serial adapter frames (invalid length, checksum).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrControllerRead = "controller_read"
	ErrRingPush       = "ring_push"
	ErrStorageWrite   = "storage_write"
	ErrStorageRotate  = "storage_rotate"
	ErrNetworkPost    = "network_post"
	ErrLinkDown       = "link_down"
	ErrEchoWrite      = "echo_write"
	ErrEchoOverflow   = "echo_overflow"
	ErrSerialRead     = "serial_read"
	ErrSerialOverflow = "serial_rx_overflow"
	ErrSettingsFetch  = "settings_fetch"
)

var errorLabels = []string{
	ErrControllerRead, ErrRingPush, ErrStorageWrite, ErrStorageRotate,
	ErrNetworkPost, ErrLinkDown, ErrEchoWrite, ErrEchoOverflow,
	ErrSerialRead, ErrSerialOverflow, ErrSettingsFetch,
}

// Handler serves Prometheus metrics at /metrics and readiness at /ready.
func Handler() http.Handler {
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
	return mux
}

// StartHTTP runs Handler on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: Handler(),
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for the periodic snapshot log line.
var (
	localCaptured  atomic.Uint64
	localEvicted   atomic.Uint64
	localBatches   atomic.Uint64
	localFlushed   atomic.Uint64
	localBytes     atomic.Uint64
	localRotations atomic.Uint64
	localNetwork   atomic.Uint64
	localErrors    atomic.Uint64
	localMalformed atomic.Uint64
	localDepth     atomic.Int64
	localFile      atomic.Int64
	localNetOff    atomic.Bool
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Captured        uint64
	Evicted         uint64
	Batches         uint64
	Flushed         uint64
	Bytes           uint64
	Rotations       uint64
	NetworkBatches  uint64
	Errors          uint64 // sum across error labels
	Malformed       uint64
	RingDepth       int64
	ActiveFile      int64
	NetworkDisabled bool
}

func Snap() Snapshot {
	return Snapshot{
		Captured:        localCaptured.Load(),
		Evicted:         localEvicted.Load(),
		Batches:         localBatches.Load(),
		Flushed:         localFlushed.Load(),
		Bytes:           localBytes.Load(),
		Rotations:       localRotations.Load(),
		NetworkBatches:  localNetwork.Load(),
		Errors:          localErrors.Load(),
		Malformed:       localMalformed.Load(),
		RingDepth:       localDepth.Load(),
		ActiveFile:      localFile.Load(),
		NetworkDisabled: localNetOff.Load(),
	}
}

func IncCaptured() {
	CapturedFrames.Inc()
	localCaptured.Add(1)
}

func IncEvicted() {
	EvictedFrames.Inc()
	localEvicted.Add(1)
}

func SetRingDepth(n int) {
	RingDepth.Set(float64(n))
	localDepth.Store(int64(n))
}

// AddFlush records one stored batch of frames and bytes.
func AddFlush(frames, bytes int) {
	FlushedBatches.Inc()
	FlushedFrames.Add(float64(frames))
	StorageBytes.Add(float64(bytes))
	localBatches.Add(1)
	localFlushed.Add(uint64(frames))
	localBytes.Add(uint64(bytes))
}

func IncRotation(newIdx int) {
	FileRotations.Inc()
	localRotations.Add(1)
	SetActiveFile(newIdx)
}

func SetActiveFile(idx int) {
	ActiveFile.Set(float64(idx))
	localFile.Store(int64(idx))
}

func IncNetworkBatch() {
	NetworkBatches.Inc()
	localNetwork.Add(1)
}

func SetNetworkDisabled(off bool) {
	v := 0.0
	if off {
		v = 1
	}
	NetworkDisabled.Set(v)
	localNetOff.Store(off)
}

func SetStatus(signal string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	StatusSignals.WithLabelValues(signal).Set(v)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	localErrors.Add(1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	localMalformed.Add(1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error series so dashboards see zeros before the first failure.
	for _, lbl := range errorLabels {
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
