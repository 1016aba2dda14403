package goBridge

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one bridge counter or histogram.
type MetricID uint16

const (
	// MetricResolveLegacyHit counts resolutions served by a legacy session.
	MetricResolveLegacyHit MetricID = iota
	// MetricResolveTokenHit counts resolutions served by a bearer token.
	MetricResolveTokenHit
	// MetricResolveUnauthenticated counts resolutions where no credential
	// matched under the active mode.
	MetricResolveUnauthenticated
	// MetricResolveStoreUnavailable counts resolutions aborted by a store
	// fault.
	MetricResolveStoreUnavailable
	// MetricSessionMaterialized counts first-time session payload stashes in
	// dual mode.
	MetricSessionMaterialized
	// MetricMaterializeFailed counts materialization side effects that could
	// not be written; the resolution itself still succeeded.
	MetricMaterializeFailed
	// MetricMigrateSuccess counts per-user migrations that issued a token.
	MetricMigrateSuccess
	// MetricMigrateAlreadyMigrated counts idempotent re-runs.
	MetricMigrateAlreadyMigrated
	// MetricMigrateFailure counts recorded per-user failures.
	MetricMigrateFailure
	// MetricModeTransition counts committed forward transitions.
	MetricModeTransition
	// MetricModeConflict counts CAS losses on the mode slot.
	MetricModeConflict
	// MetricTransitionRejected counts transitions refused by the
	// completeness gate or the state machine.
	MetricTransitionRejected
	// MetricTransitionContended counts attempts that found the transition
	// lock held.
	MetricTransitionContended
	// MetricSnapshotCreated counts rollback captures.
	MetricSnapshotCreated
	// MetricSnapshotRestored counts completed restores.
	MetricSnapshotRestored
	// MetricRollbackFailed counts restores that failed partway and flagged
	// manual intervention.
	MetricRollbackFailed
	// MetricResolveLatency is the resolve-path latency histogram.
	MetricResolveLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps hot counters on separate cache lines.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters plus an optional resolve
// latency histogram. Safe for concurrent use; reads never block writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments a counter. No-op when metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a resolve latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricResolveLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricResolveLatency].buckets[i])
		}
		s.Histograms[MetricResolveLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
