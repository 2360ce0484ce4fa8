package config

import (
	"fmt"
	"net"
	"os"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/logging"
)

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.NewMissingField("data_dir"))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, errors.NewInvalidValue("logging.level", c.Logging.Level, "must be debug, info, warn or error"))
	}

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if c.Ring.Capacity <= 0 {
		errs = append(errs, errors.NewValidation("ring.capacity", "must be positive"))
	}

	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}

	if err := c.Backpressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backpressure: %w", err))
	}

	if err := c.Aggregate.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("aggregate: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, errors.NewInvalidValue("metrics.listen", c.Metrics.Listen, err.Error()))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, errors.NewMissingField("path"))
	}
	if c.RowLimit <= 0 {
		errs = append(errs, errors.NewValidation("row_limit", "must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.NewValidation("batch_size", "must be positive"))
	} else if c.BatchSize > c.RowLimit {
		errs = append(errs, errors.NewValidation("batch_size", "must not exceed row_limit"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, errors.NewValidation("page_size", "must be positive"))
	}
	if c.MaxOpenConns <= 0 {
		errs = append(errs, errors.NewValidation("max_open_conns", "must be positive"))
	}
	if c.VerifyInterval < 0 {
		errs = append(errs, errors.NewValidation("verify_interval", "must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	var errs []error

	if c.Dir == "" {
		errs = append(errs, errors.NewMissingField("dir"))
	}
	if c.RealTimeFile == "" {
		errs = append(errs, errors.NewMissingField("realtime_file"))
	}
	if c.RealTimeSamples <= 0 {
		errs = append(errs, errors.NewValidation("realtime_samples", "must be positive"))
	}
	if c.ExpireSeconds <= 0 {
		errs = append(errs, errors.NewValidation("expire_seconds", "must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.NewValidation("workers", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	var errs []error

	if c.FlushInterval <= 0 {
		errs = append(errs, errors.NewValidation("flush_interval", "must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.NewValidation("queue_size", "must be positive"))
	}
	if c.PendingCapacity <= 0 {
		errs = append(errs, errors.NewValidation("pending_capacity", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	// Thresholds must be in order
	thresholds := []struct {
		name  string
		value float64
	}{
		{"thresholds.warning", c.Thresholds.Warning},
		{"thresholds.critical", c.Thresholds.Critical},
		{"thresholds.emergency", c.Thresholds.Emergency},
	}
	for _, th := range thresholds {
		if th.value <= 0 || th.value > 1 {
			errs = append(errs, errors.NewValidation(th.name, "must be in (0, 1]"))
		}
	}
	if c.Thresholds.Warning >= c.Thresholds.Critical {
		errs = append(errs, errors.NewValidation("thresholds.warning", "must be < thresholds.critical"))
	}
	if c.Thresholds.Critical >= c.Thresholds.Emergency {
		errs = append(errs, errors.NewValidation("thresholds.critical", "must be < thresholds.emergency"))
	}

	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= 0.5 {
		errs = append(errs, errors.NewValidation("recovery.hysteresis", "must be in [0, 0.5)"))
	}
	if c.Recovery.Cooldown < 0 {
		errs = append(errs, errors.NewValidation("recovery.cooldown", "must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the aggregate configuration.
func (c *AggregateConfig) Validate() error {
	var errs []error

	if c.BucketSize < 0 {
		errs = append(errs, errors.NewValidation("bucket_size", "must be non-negative"))
	}
	if c.Accuracy < 0 || c.Accuracy >= 1 {
		errs = append(errs, errors.NewValidation("accuracy", "must be in [0, 1)"))
	}

	return errors.Join(errs...)
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.DumpDir == "" {
		errs = append(errs, errors.NewMissingField("dump_dir"))
	}
	if c.MaxAge < 0 {
		errs = append(errs, errors.NewValidation("max_age", "must be non-negative"))
	}
	if c.MaxAge > 0 && c.Interval <= 0 {
		errs = append(errs, errors.NewValidation("interval", "must be positive when max_age is set"))
	}
	if c.DumpInterval < 0 {
		errs = append(errs, errors.NewValidation("dump_interval", "must be non-negative"))
	}
	switch c.DumpFormat {
	case "csv", "parquet":
	default:
		errs = append(errs, errors.NewInvalidValue("dump_format", c.DumpFormat, "must be csv or parquet"))
	}

	return errors.Join(errs...)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.ExportDir(),
		c.DumpDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
