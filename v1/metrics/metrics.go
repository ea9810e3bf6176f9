package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultAcquired = "acquired"
	ResultTimeout  = "timeout"
	ResultError    = "error"
	ResultReleased = "released"
	ResultMismatch = "mismatch"
	ResultExtended = "extended"
)

// Lock groups the collectors reported by a lock manager. A nil *Lock is
// valid and records nothing.
type Lock struct {
	// Acquires counts acquire calls by result (acquired, timeout, error).
	Acquires *prometheus.CounterVec
	// Releases counts release store calls by result (released, mismatch, error).
	Releases *prometheus.CounterVec
	// Renewals counts renewal attempts by result (extended, mismatch, error).
	Renewals *prometheus.CounterVec
	// Lost counts handles that detected a lost lease.
	Lost prometheus.Counter
	// Held reports handles currently in the held state.
	Held prometheus.Gauge
	// AcquireWait observes time spent inside successful acquire calls.
	AcquireWait prometheus.Histogram
}

// NewLock creates the lock collectors and registers them on reg. When reg
// already holds the same collectors, for example from another manager
// sharing the registry, those are reused and the managers report into the
// same series. Any other registration error panics.
func NewLock(reg prometheus.Registerer) *Lock {
	l := &Lock{
		Acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warplock_acquire_total",
			Help: "Total number of acquire calls by result",
		}, []string{"result"}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warplock_release_total",
			Help: "Total number of release calls by result",
		}, []string{"result"}),
		Renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warplock_renew_total",
			Help: "Total number of lease renewals by result",
		}, []string{"result"}),
		Lost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warplock_lost_total",
			Help: "Total number of locks lost while held",
		}),
		Held: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warplock_held",
			Help: "Current number of held locks",
		}),
		AcquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warplock_acquire_wait_seconds",
			Help:    "Time spent waiting for a lock",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	l.Acquires = registerOrReuse(reg, l.Acquires)
	l.Releases = registerOrReuse(reg, l.Releases)
	l.Renewals = registerOrReuse(reg, l.Renewals)
	l.Lost = registerOrReuse(reg, l.Lost)
	l.Held = registerOrReuse(reg, l.Held)
	l.AcquireWait = registerOrReuse(reg, l.AcquireWait)
	return l
}

func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(err)
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ObserveAcquire records an acquire outcome. wait is only observed for
// successful acquisitions.
func (l *Lock) ObserveAcquire(result string, wait time.Duration) {
	if l == nil {
		return
	}
	l.Acquires.WithLabelValues(result).Inc()
	if result == ResultAcquired {
		l.AcquireWait.Observe(wait.Seconds())
		l.Held.Inc()
	}
}

// ObserveRelease records a release outcome. held tells whether the handle
// was still counted as held.
func (l *Lock) ObserveRelease(result string, held bool) {
	if l == nil {
		return
	}
	l.Releases.WithLabelValues(result).Inc()
	if held {
		l.Held.Dec()
	}
}

// ObserveRenewal records a renewal attempt.
func (l *Lock) ObserveRenewal(result string) {
	if l == nil {
		return
	}
	l.Renewals.WithLabelValues(result).Inc()
}

// ObserveLost records a held handle turning lost.
func (l *Lock) ObserveLost() {
	if l == nil {
		return
	}
	l.Lost.Inc()
	l.Held.Dec()
}
