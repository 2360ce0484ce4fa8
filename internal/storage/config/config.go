package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/qoslog/config"
	"github.com/xtxerr/qoslog/internal/storage/samplestore"
	"github.com/xtxerr/qoslog/internal/storage/snapshot"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Config represents the complete daemon configuration.
type Config struct {
	// DataDir is the root directory for all relative paths.
	DataDir string `yaml:"data_dir"`

	// Logging configures the global logger.
	Logging LoggingConfig `yaml:"logging"`

	// Store configures the windowed sample store.
	Store StoreConfig `yaml:"store"`

	// Ring configures the in-memory ring log.
	Ring RingConfig `yaml:"ring"`

	// Export configures JSON snapshots.
	Export ExportConfig `yaml:"export"`

	// Ingestion configures the ingestion pipeline.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Backpressure configures pending buffer load levels.
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// Aggregate configures rolling summaries.
	Aggregate AggregateConfig `yaml:"aggregate"`

	// Retention configures dump file cleanup.
	Retention RetentionConfig `yaml:"retention"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects the JSON handler instead of text.
	JSON bool `yaml:"json"`
}

// StoreConfig configures the windowed sample store.
type StoreConfig struct {
	// Path is the database file. Relative paths resolve against DataDir.
	Path string `yaml:"path"`

	// Recreate drops all tables at startup.
	Recreate bool `yaml:"recreate"`

	// LayerMode enables the low-priority sources lp1, lp2 and lp_out.
	LayerMode bool `yaml:"layer_mode"`

	// RowLimit is the maximum number of rows per source table.
	RowLimit int `yaml:"row_limit"`

	// BatchSize is the number of samples per write transaction.
	BatchSize int `yaml:"batch_size"`

	// PageSize caps the rows read per source in one page fetch.
	PageSize int `yaml:"page_size"`

	// MaxOpenConns is the database connection pool size.
	MaxOpenConns int `yaml:"max_open_conns"`

	// VerifyInterval is how often the daemon checks integrity. Zero disables.
	VerifyInterval time.Duration `yaml:"verify_interval"`
}

// RingConfig configures the in-memory ring log.
type RingConfig struct {
	// Capacity is the number of retained samples.
	Capacity int `yaml:"capacity"`
}

// ExportConfig configures JSON snapshots.
type ExportConfig struct {
	// Dir holds snapshots. Relative paths resolve against DataDir.
	Dir string `yaml:"dir"`

	// RealTimeFile is the real-time snapshot, relative to Dir.
	RealTimeFile string `yaml:"realtime_file"`

	// RealTimeSamples is the real-time snapshot size and window width.
	RealTimeSamples int `yaml:"realtime_samples"`

	// ExpireSeconds is the lifetime of a window that is not kept alive.
	ExpireSeconds int `yaml:"expire_seconds"`

	// Gzip writes a compressed copy of every snapshot.
	Gzip bool `yaml:"gzip"`

	// Workers bounds concurrent windowed snapshot writes.
	Workers int `yaml:"workers"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	// FlushInterval is how often pending samples are written to the store.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// QueueSize is the capacity of the producer channel.
	QueueSize int `yaml:"queue_size"`

	// PendingCapacity bounds the samples awaiting a store write.
	PendingCapacity int `yaml:"pending_capacity"`

	// VerifyAfterFlush checks store integrity after every flush.
	VerifyAfterFlush bool `yaml:"verify_after_flush"`
}

// BackpressureConfig configures pending buffer load levels.
type BackpressureConfig struct {
	// Enabled enables backpressure handling.
	Enabled bool `yaml:"enabled"`

	// Thresholds defines buffer usage thresholds for level changes.
	Thresholds BackpressureThresholds `yaml:"thresholds"`

	// Recovery configures recovery behavior.
	Recovery BackpressureRecovery `yaml:"recovery"`
}

// BackpressureThresholds defines buffer usage thresholds.
type BackpressureThresholds struct {
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`
}

// BackpressureRecovery configures recovery behavior.
type BackpressureRecovery struct {
	// Hysteresis to prevent flapping (0.0-0.5).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level checks.
	Cooldown time.Duration `yaml:"cooldown"`
}

// AggregateConfig configures rolling summaries.
type AggregateConfig struct {
	// BucketSize is the summary window width.
	BucketSize time.Duration `yaml:"bucket_size"`

	// Accuracy is the DDSketch relative accuracy. Zero disables percentiles.
	Accuracy float64 `yaml:"accuracy"`
}

// RetentionConfig configures dump file cleanup.
type RetentionConfig struct {
	// DumpDir holds full dumps. Relative paths resolve against DataDir.
	DumpDir string `yaml:"dump_dir"`

	// MaxAge is how long dump files are kept. Zero keeps them forever.
	MaxAge time.Duration `yaml:"max_age"`

	// Interval is how often the dump directory is swept.
	Interval time.Duration `yaml:"interval"`

	// DumpInterval is how often the daemon writes a full store dump.
	// Zero disables periodic dumps.
	DumpInterval time.Duration `yaml:"dump_interval"`

	// DumpFormat is csv or parquet.
	DumpFormat string `yaml:"dump_format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load loads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Path:           defaults.DefaultStoreFile,
			RowLimit:       defaults.DefaultRowLimit,
			BatchSize:      defaults.DefaultBatchSize,
			PageSize:       defaults.DefaultPageSize,
			MaxOpenConns:   defaults.DefaultMaxOpenConns,
			VerifyInterval: defaults.DefaultVerifyInterval,
		},
		Ring: RingConfig{
			Capacity: defaults.DefaultRingCapacity,
		},
		Export: ExportConfig{
			Dir:             defaults.DefaultExportDir,
			RealTimeFile:    defaults.DefaultRealTimeFile,
			RealTimeSamples: defaults.DefaultRealTimeSamples,
			ExpireSeconds:   defaults.DefaultExpireSeconds,
			Workers:         defaults.DefaultSnapshotWorkers,
		},
		Ingestion: IngestionConfig{
			FlushInterval:    defaults.DefaultFlushInterval,
			QueueSize:        defaults.DefaultIngestQueueSize,
			PendingCapacity:  defaults.DefaultPendingCapacity,
			VerifyAfterFlush: true,
		},
		Backpressure: BackpressureConfig{
			Enabled: true,
			Thresholds: BackpressureThresholds{
				Warning:   defaults.DefaultBackpressureWarning,
				Critical:  defaults.DefaultBackpressureCritical,
				Emergency: defaults.DefaultBackpressureEmergency,
			},
			Recovery: BackpressureRecovery{
				Hysteresis: defaults.DefaultBackpressureHysteresis,
				Cooldown:   defaults.DefaultBackpressureCooldown,
			},
		},
		Aggregate: AggregateConfig{
			BucketSize: defaults.DefaultSummaryBucket,
			Accuracy:   defaults.DefaultPercentileAccuracy,
		},
		Retention: RetentionConfig{
			DumpDir:      defaults.DefaultDumpDir,
			MaxAge:       defaults.DefaultDumpMaxAge,
			Interval:     defaults.DefaultRetentionInterval,
			DumpInterval: defaults.DefaultDumpInterval,
			DumpFormat:   defaults.DefaultDumpFormat,
		},
		Metrics: MetricsConfig{
			Listen: defaults.DefaultMetricsListen,
		},
	}
}

// resolve returns p relative to DataDir unless it is absolute.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// StorePath returns the database file path.
func (c *Config) StorePath() string { return c.resolve(c.Store.Path) }

// ExportDir returns the snapshot directory.
func (c *Config) ExportDir() string { return c.resolve(c.Export.Dir) }

// DumpDir returns the full dump directory.
func (c *Config) DumpDir() string { return c.resolve(c.Retention.DumpDir) }

// RealTimePath returns the real-time snapshot path.
func (c *Config) RealTimePath() string {
	if filepath.IsAbs(c.Export.RealTimeFile) {
		return c.Export.RealTimeFile
	}
	return filepath.Join(c.ExportDir(), c.Export.RealTimeFile)
}

// Sources returns the active source set.
func (c *Config) Sources() types.SourceSet {
	return types.NewSourceSet(c.Store.LayerMode)
}

// StoreOptions returns the sample store options.
func (c *Config) StoreOptions() samplestore.Options {
	return samplestore.Options{
		Path:         c.StorePath(),
		Recreate:     c.Store.Recreate,
		Sources:      c.Sources(),
		RowLimit:     c.Store.RowLimit,
		BatchSize:    c.Store.BatchSize,
		PageSize:     c.Store.PageSize,
		MaxOpenConns: c.Store.MaxOpenConns,
	}
}

// SnapshotOptions returns the snapshot manager options.
func (c *Config) SnapshotOptions() snapshot.Options {
	return snapshot.Options{
		Dir:             c.ExportDir(),
		RealTimeFile:    c.RealTimePath(),
		RealTimeSamples: c.Export.RealTimeSamples,
		DefaultExpire:   c.Export.ExpireSeconds,
		Gzip:            c.Export.Gzip,
		Sources:         c.Sources(),
		Workers:         c.Export.Workers,
	}
}
