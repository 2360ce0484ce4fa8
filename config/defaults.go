// Package config provides configuration defaults for the qoslog daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Sample Store Defaults
// =============================================================================

const (
	// DefaultRowLimit is the maximum number of rows retained per source table.
	// Once reached, the oldest rows are evicted before new rows are inserted.
	// Override via config: store.row_limit
	DefaultRowLimit = 5000

	// DefaultBatchSize is the number of samples committed per transaction
	// by batched ingestion. Must not exceed the row limit.
	// Override via config: store.batch_size
	DefaultBatchSize = 100

	// DefaultPageSize caps the number of rows read per source in a single
	// page fetch. Reads and dumps loop over pages of this size.
	// Override via config: store.page_size
	DefaultPageSize = 1000

	// DefaultMaxOpenConns is the connection pool size of the embedded database.
	// Override via config: store.max_open_conns
	DefaultMaxOpenConns = 4

	// DefaultStoreFile is the database file name, relative to data_dir.
	// Override via config: store.path
	DefaultStoreFile = "qos.db"
)

// =============================================================================
// Ring Log Defaults
// =============================================================================

const (
	// DefaultRingCapacity holds two weeks of samples at one sample per second.
	// Override via config: ring.capacity
	DefaultRingCapacity = 14 * 86400
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultExpireSeconds is the lifetime of a window request that is not
	// kept alive. Expiry is counted in appended samples, one per second.
	// Override via config: export.expire_seconds
	DefaultExpireSeconds = 30

	// DefaultRealTimeSamples is the number of most recent samples in the
	// real-time snapshot, and the width of every requested window.
	// Override via config: export.realtime_samples
	DefaultRealTimeSamples = 600

	// DefaultRealTimeFile is the real-time snapshot file name, relative
	// to the export directory.
	// Override via config: export.realtime_file
	DefaultRealTimeFile = "realtime.json"

	// DefaultExportDir is the snapshot directory, relative to data_dir.
	// Override via config: export.dir
	DefaultExportDir = "export"
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultFlushInterval is how often buffered samples are written to
	// the sample store, independent of the batch size.
	// Override via config: ingestion.flush_interval
	DefaultFlushInterval = 100 * time.Second

	// DefaultIngestQueueSize is the capacity of the producer channel.
	// Override via config: ingestion.queue_size
	DefaultIngestQueueSize = 256

	// DefaultPendingCapacity bounds the samples awaiting a store write.
	// When writes are halted the oldest pending samples are overwritten.
	// Override via config: ingestion.pending_capacity
	DefaultPendingCapacity = 3600
)

// =============================================================================
// Backpressure Defaults
// =============================================================================

const (
	// Pending buffer usage thresholds (0.0-1.0).
	// Override via config: backpressure.thresholds.*
	DefaultBackpressureWarning   = 0.50
	DefaultBackpressureCritical  = 0.80
	DefaultBackpressureEmergency = 0.95

	// DefaultBackpressureHysteresis prevents level flapping.
	// Override via config: backpressure.recovery.hysteresis
	DefaultBackpressureHysteresis = 0.10

	// DefaultBackpressureCooldown is the minimum time between level checks.
	// Override via config: backpressure.recovery.cooldown
	DefaultBackpressureCooldown = 10 * time.Second
)

// =============================================================================
// Summary Defaults
// =============================================================================

const (
	// DefaultSummaryBucket is the width of the rolling summaries logged
	// and exported by the daemon.
	// Override via config: aggregate.bucket_size
	DefaultSummaryBucket = 5 * time.Minute

	// DefaultPercentileAccuracy is the DDSketch relative accuracy.
	// Override via config: aggregate.accuracy
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultDumpDir is where full dumps are written, relative to data_dir.
	// Override via config: retention.dump_dir
	DefaultDumpDir = "dumps"

	// DefaultDumpMaxAge is how long dump files are kept.
	// Override via config: retention.max_age
	DefaultDumpMaxAge = 7 * 24 * time.Hour

	// DefaultRetentionInterval is how often the dump directory is swept.
	// Override via config: retention.interval
	DefaultRetentionInterval = time.Hour

	// DefaultDumpInterval is how often the daemon writes a full store dump.
	// Override via config: retention.dump_interval
	DefaultDumpInterval = 24 * time.Hour

	// DefaultDumpFormat is the periodic dump format, csv or parquet.
	// Override via config: retention.dump_format
	DefaultDumpFormat = "parquet"
)

// =============================================================================
// Daemon Defaults
// =============================================================================

const (
	// DefaultDataDir is the base directory for all persisted files.
	// Override via config: data_dir
	DefaultDataDir = "/var/lib/qoslog"

	// DefaultMetricsListen is the Prometheus endpoint address.
	// Override via config: metrics.listen
	DefaultMetricsListen = "127.0.0.1:9464"

	// DefaultVerifyInterval is how often the daemon re-verifies store integrity.
	// Override via config: store.verify_interval
	DefaultVerifyInterval = 5 * time.Minute

	// DefaultShutdownTimeout bounds the wait for an in-flight full save.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultSnapshotWorkers bounds concurrent windowed snapshot writes.
	// Override via config: export.workers
	DefaultSnapshotWorkers = 4
)
