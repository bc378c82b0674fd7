package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

// Metrics exposes Prometheus collectors that report agent run activity.
type Metrics struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsActive    prometheus.Gauge
	streamBytes   *prometheus.CounterVec
	displayPushes *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics registered with the
// global Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered are reused; any other registration
// error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "started_total",
			Help:      "Agent runs spawned.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "finished_total",
			Help:      "Agent runs that reached a terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall-clock time from spawn to finalization.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 240, 300, 420},
		}, []string{"state"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Agent runs currently registered.",
		}),
		streamBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bytes_total",
			Help:      "Bytes read from agent output streams.",
		}, []string{"source"}),
		displayPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "pushes_total",
			Help:      "In-progress display pushes by mode and outcome.",
		}, []string{"mode", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "final",
			Name:      "deliveries_total",
			Help:      "Final result messages by format and outcome.",
		}, []string{"format", "outcome"}),
	}

	m.runsStarted = register(reg, m.runsStarted)
	m.runsFinished = register(reg, m.runsFinished)
	m.runDuration = register(reg, m.runDuration)
	m.runsActive = register(reg, m.runsActive)
	m.streamBytes = register(reg, m.streamBytes)
	m.displayPushes = register(reg, m.displayPushes)
	m.deliveries = register(reg, m.deliveries)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) T {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// RunStarted records a spawned run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.runsActive.Inc()
}

// RunFinished records a terminal run and its duration.
func (m *Metrics) RunFinished(state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(state).Inc()
	m.runDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.runsActive.Dec()
}

// StreamBytes counts bytes read from source ("stdout" or "stderr").
func (m *Metrics) StreamBytes(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamBytes.WithLabelValues(source).Add(float64(n))
}

// DisplayPush records one scheduler push attempt.
func (m *Metrics) DisplayPush(mode, outcome string) {
	if m == nil {
		return
	}
	m.displayPushes.WithLabelValues(mode, outcome).Inc()
}

// Delivery records one final message delivery.
func (m *Metrics) Delivery(format, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(format, outcome).Inc()
}
