package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLogin counts sessions established.
	MetricLogin MetricID = iota
	// MetricValidateOK counts successful request validations.
	MetricValidateOK
	// MetricValidateRenewed counts validations that renewed the session.
	MetricValidateRenewed
	// MetricAuthRequired counts requests with no session presented.
	MetricAuthRequired
	// MetricSessionExpired counts requests whose session failed an expiry check.
	MetricSessionExpired
	// MetricCSRFRejected counts enforced-mode CSRF rejections.
	MetricCSRFRejected
	// MetricCSRFShadowMiss counts shadow-mode would-block decisions.
	MetricCSRFShadowMiss
	// MetricRateLimited counts login attempts refused by the rate limiter.
	MetricRateLimited
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts logout-all operations.
	MetricLogoutAll
	// MetricSessionsRevoked counts individual sessions destroyed by revocation.
	MetricSessionsRevoked
	// MetricSessionRotated counts password-change session rotations.
	MetricSessionRotated
	// MetricBackendUnavailable counts store connectivity failures.
	MetricBackendUnavailable
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of engine counters. Disabled metrics cost one
// branch per call.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a [Metrics] set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Add increments one counter by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
