package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ForwardStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llamacore_forward_steps_total",
		Help: "The total number of completed forward steps",
	})

	ForwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llamacore_forward_duration_seconds",
		Help:    "Duration of one forward step",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	PreconditionViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llamacore_precondition_violations_total",
		Help: "Forward calls rejected for an out-of-range argument",
	}, []string{"arg"})

	ActiveEngines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llamacore_active_engines",
		Help: "Engines currently holding a run state",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llamacore_active_sessions",
		Help: "Open API sessions",
	})

	KVCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llamacore_kv_cache_bytes",
		Help: "Bytes held by run states, key/value caches included",
	})

	ContextPosition = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llamacore_context_position",
		Help:    "Distribution of positions processed by forward steps",
		Buckets: []float64{0, 16, 64, 256, 1024, 4096, 16384},
	})
)

// RecordForward records one completed step at pos.
func RecordForward(pos int, d time.Duration) {
	ForwardStepsTotal.Inc()
	ForwardDuration.Observe(d.Seconds())
	ContextPosition.Observe(float64(pos))
}

// RecordState tracks a run state of n bytes entering (sign > 0) or leaving
// (sign < 0) service.
func RecordState(n int64, sign int) {
	if sign < 0 {
		ActiveEngines.Dec()
		KVCacheBytes.Sub(float64(n))
		return
	}
	ActiveEngines.Inc()
	KVCacheBytes.Add(float64(n))
}
