package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/qoslog/internal/storage/types"
)

type seriesKey struct {
	source types.Source
	field  Field
}

// Manager maintains per-bucket aggregates of every field of every source
// in a SourceSet. Buckets are aligned to multiples of the bucket size.
type Manager struct {
	mu sync.RWMutex

	bucketSize int64 // seconds
	accuracy   float64
	series     []seriesKey

	aggregates map[seriesKey]*StreamingAggregate
	bucket     int64 // start of the active bucket, 0 before the first sample

	completed []types.Summary

	stats ManagerStats
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	SamplesProcessed int64
	BucketsCompleted int64
	CompletedPending int64
	FlushesPerformed int64
}

// NewManager creates a manager for set with the given bucket size.
// A zero accuracy disables percentiles.
func NewManager(set types.SourceSet, bucketSize time.Duration, accuracy float64) *Manager {
	m := &Manager{
		bucketSize: max(int64(bucketSize/time.Second), 1),
		accuracy:   accuracy,
		aggregates: make(map[seriesKey]*StreamingAggregate),
	}
	for _, src := range set.Sources() {
		m.series = append(m.series, seriesKey{src, FieldDelayFactor}, seriesKey{src, FieldRate})
		if src.Kind() == types.KindInput {
			m.series = append(m.series, seriesKey{src, FieldMediaLossRate})
		}
	}
	return m
}

// Process adds m, taken at ts (Unix seconds), to the aggregates of its
// bucket. A sample in a later bucket completes the active one.
func (m *Manager) Process(ts int64, ms *types.Measurement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := ts - ts%m.bucketSize
	if m.bucket != 0 && start > m.bucket {
		m.complete()
	}
	if m.bucket == 0 || start > m.bucket {
		m.bucket = start
		for _, k := range m.series {
			if agg, ok := m.aggregates[k]; ok {
				agg.Reset(start)
			} else {
				m.aggregates[k] = New(k.source, k.field, start, m.accuracy)
			}
		}
	}

	for _, k := range m.series {
		m.aggregates[k].AddMeasurement(ms)
	}
	m.stats.SamplesProcessed++
}

// ProcessBatch processes consecutive samples, the first taken at start.
func (m *Manager) ProcessBatch(start int64, ms []types.Measurement) {
	for i := range ms {
		m.Process(start+int64(i), &ms[i])
	}
}

// complete moves the active bucket's summaries to the completed list.
// Callers hold m.mu.
func (m *Manager) complete() {
	for _, k := range m.series {
		if agg := m.aggregates[k]; agg.Count() > 0 {
			m.completed = append(m.completed, agg.Result())
		}
	}
	m.stats.BucketsCompleted++
}

// FlushCompleted returns and clears all completed summaries.
func (m *Manager) FlushCompleted() []types.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.completed) == 0 {
		return nil
	}
	out := m.completed
	m.completed = nil
	m.stats.FlushesPerformed++
	return out
}

// FlushAll completes the active bucket and returns every pending summary,
// typically at shutdown.
func (m *Manager) FlushAll() []types.Summary {
	m.mu.Lock()
	if m.bucket != 0 {
		m.complete()
		m.bucket = 0
	}
	m.mu.Unlock()

	out := m.FlushCompleted()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// Current returns the summaries of the active bucket without completing it.
func (m *Manager) Current() []types.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.bucket == 0 {
		return nil
	}
	out := make([]types.Summary, 0, len(m.series))
	for _, k := range m.series {
		out = append(out, m.aggregates[k].Result())
	}
	return out
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.CompletedPending = int64(len(m.completed))
	return stats
}

// BucketSize returns the configured bucket size.
func (m *Manager) BucketSize() time.Duration {
	return time.Duration(m.bucketSize) * time.Second
}
