// Package metrics exports pipeline statistics to Prometheus.
//
// Most metrics are read from the components' Stats methods at scrape
// time. Only the periodic integrity verification is observed directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/qoslog/internal/storage/ingestion"
	"github.com/xtxerr/qoslog/internal/storage/retention"
	"github.com/xtxerr/qoslog/internal/storage/ringlog"
	"github.com/xtxerr/qoslog/internal/storage/samplestore"
	"github.com/xtxerr/qoslog/internal/storage/snapshot"
)

const namespace = "qoslog"

type (
	StoreStats     interface{ Stats() samplestore.Stats }
	LogStats       interface{ Stats() ringlog.Stats }
	SnapshotStats  interface{ Stats() snapshot.Stats }
	IngestionStats interface{ Stats() ingestion.ServiceStats }
	RetentionStats interface{ Stats() retention.Stats }
)

// Sources lists the components to export. Nil fields are skipped.
type Sources struct {
	Store     StoreStats
	Log       LogStats
	Snapshots SnapshotStats
	Ingestion IngestionStats
	Retention RetentionStats
}

// Metrics holds the directly observed metrics.
type Metrics struct {
	verifyDuration prometheus.Histogram
	verifyFailures prometheus.Counter
}

// New registers the metrics of every non-nil source with reg.
func New(reg prometheus.Registerer, src Sources) (*Metrics, error) {
	m := &Metrics{
		verifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "Duration of periodic store integrity checks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		verifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_failures_total",
			Help:      "Periodic integrity checks that failed.",
		}),
	}

	collectors := []prometheus.Collector{m.verifyDuration, m.verifyFailures}
	if s := src.Store; s != nil {
		collectors = append(collectors,
			counter("store_rows_inserted_total", "Rows inserted per source table.", func() float64 { return float64(s.Stats().RowsInserted) }),
			counter("store_rows_evicted_total", "Rows evicted per source table.", func() float64 { return float64(s.Stats().RowsEvicted) }),
			counter("store_batches_total", "Committed batched writes.", func() float64 { return float64(s.Stats().Batches) }),
			counter("store_inconsistent_pages_total", "Reads rejected for misaligned sources.", func() float64 { return float64(s.Stats().InconsistentPages) }),
			counter("store_integrity_failures_total", "Failed integrity checks.", func() float64 { return float64(s.Stats().IntegrityFailures) }),
			gauge("store_halted", "1 while store writes are halted.", func() float64 { return boolValue(s.Stats().Halted) }),
			gauge("store_file_bytes", "Size of the store file.", func() float64 { return float64(s.Stats().FileBytes) }),
		)
	}
	if l := src.Log; l != nil {
		collectors = append(collectors,
			gauge("ringlog_samples", "Samples held by the ring log.", func() float64 { return float64(l.Stats().Len) }),
			gauge("ringlog_capacity", "Ring log capacity.", func() float64 { return float64(l.Stats().Capacity) }),
			gauge("ringlog_start_time_seconds", "Unix time of the oldest sample.", func() float64 { return float64(l.Stats().StartTime) }),
			counter("ringlog_appended_total", "Samples stored, including gap fills.", func() float64 { return float64(l.Stats().Appended) }),
			counter("ringlog_gap_fills_total", "Appends that stored two samples.", func() float64 { return float64(l.Stats().GapFills) }),
			counter("ringlog_dropped_total", "Appends that stored nothing.", func() float64 { return float64(l.Stats().Dropped) }),
			counter("ringlog_evicted_total", "Oldest samples overwritten at capacity.", func() float64 { return float64(l.Stats().Evicted) }),
			counter("ringlog_regen_failures_total", "Failed snapshot regenerations.", func() float64 { return float64(l.Stats().RegenFailures) }),
		)
	}
	if sn := src.Snapshots; sn != nil {
		collectors = append(collectors,
			gauge("snapshot_windows", "Requested snapshot windows.", func() float64 { return float64(sn.Stats().Windows) }),
			counter("snapshot_written_total", "Snapshot files written.", func() float64 { return float64(sn.Stats().SnapshotsWritten) }),
			counter("snapshot_write_errors_total", "Snapshot writes that failed.", func() float64 { return float64(sn.Stats().WriteErrors) }),
			counter("snapshot_windows_expired_total", "Windows removed by expiry.", func() float64 { return float64(sn.Stats().WindowsExpired) }),
			counter("saves_total", "Full saves started.", func() float64 { return float64(sn.Stats().Saves) }),
			counter("save_failures_total", "Full saves that failed.", func() float64 { return float64(sn.Stats().SaveFailures) }),
		)
	}
	if in := src.Ingestion; in != nil {
		collectors = append(collectors,
			counter("ingest_received_total", "Measurements handed to the pipeline.", func() float64 { return float64(in.Stats().Received) }),
			counter("ingest_queue_dropped_total", "Measurements dropped on a full queue.", func() float64 { return float64(in.Stats().QueueDrops) }),
			counter("ingest_pending_dropped_total", "Samples dropped before reaching the store.", func() float64 { return float64(in.Stats().PendingDrops) }),
			counter("ingest_discontinuities_total", "Breaks in sample time.", func() float64 { return float64(in.Stats().Discontinuities) }),
			counter("ingest_samples_flushed_total", "Samples written to the store.", func() float64 { return float64(in.Stats().SamplesFlushed) }),
			counter("ingest_flush_errors_total", "Flushes that failed.", func() float64 { return float64(in.Stats().FlushErrors) }),
			gauge("ingest_pending", "Samples waiting for the store.", func() float64 { return float64(in.Stats().Pending) }),
			gauge("ingest_pending_usage_ratio", "Pending buffer usage.", func() float64 { return in.Stats().PendingUsage }),
			gauge("backpressure_level", "Backpressure level, 0 normal to 3 emergency.", func() float64 { return float64(in.Stats().Backpressure) }),
			gauge("ingest_shedding", "1 while pending samples are being overwritten.", func() float64 { return boolValue(in.Stats().Shedding) }),
		)
	}
	if r := src.Retention; r != nil {
		collectors = append(collectors,
			counter("retention_files_deleted_total", "Expired dumps removed.", func() float64 { return float64(r.Stats().FilesDeleted) }),
			counter("retention_bytes_freed_total", "Bytes freed by dump cleanup.", func() float64 { return float64(r.Stats().BytesFreed) }),
			counter("retention_errors_total", "Dump cleanup errors.", func() float64 { return float64(r.Stats().Errors) }),
		)
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveVerify records one integrity check.
func (m *Metrics) ObserveVerify(d time.Duration, err error) {
	m.verifyDuration.Observe(d.Seconds())
	if err != nil {
		m.verifyFailures.Inc()
	}
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func gauge(name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
}

func counter(name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, fn)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
