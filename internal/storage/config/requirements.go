package config

import (
	"fmt"
	"unsafe"

	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Requirements represents calculated resource requirements.
type Requirements struct {
	// Memory requirements
	RingBytes    int64
	PendingBytes int64
	TotalRAM     int64

	// Storage requirements
	StoreRows     int64
	StoreBytes    int64
	SnapshotBytes int64
	DumpBytes     int64

	// Retention
	RingSeconds  int64
	StoreSeconds int64
}

// Constants for calculations
const (
	// Bytes per stored row including the clock blob and DuckDB overhead
	bytesPerStoredRow = 96

	// Bytes per value in a JSON snapshot array
	bytesPerSnapshotValue = 9

	// Bytes per source in a CSV dump row
	bytesPerDumpColumn = 33

	// Runtime and database engine baseline
	baselineRAM = 256 * 1024 * 1024
)

// CalculateRequirements computes resource requirements based on configuration.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{}
	set := c.Sources()
	sampleSize := int64(unsafe.Sizeof(types.Measurement{}))

	// -------------------------------------------------------------------------
	// Memory Requirements
	// -------------------------------------------------------------------------

	r.RingBytes = int64(c.Ring.Capacity) * sampleSize
	r.PendingBytes = int64(c.Ingestion.PendingCapacity) * sampleSize
	r.TotalRAM = r.RingBytes + r.PendingBytes + baselineRAM

	// -------------------------------------------------------------------------
	// Storage Requirements
	// -------------------------------------------------------------------------

	r.StoreRows = int64(c.Store.RowLimit) * int64(set.Len())
	r.StoreBytes = r.StoreRows * bytesPerStoredRow

	// active + rate/mlr/df per input + rate/df per output
	fields := int64(1 + 3*len(set.Inputs()) + 2*len(set.Outputs()))
	r.SnapshotBytes = fields * int64(c.Export.RealTimeSamples) * bytesPerSnapshotValue
	if c.Export.Gzip {
		r.SnapshotBytes += r.SnapshotBytes / 4
	}

	r.DumpBytes = int64(c.Ring.Capacity) * int64(36+bytesPerDumpColumn*set.Len())

	r.RingSeconds = int64(c.Ring.Capacity)
	r.StoreSeconds = int64(c.Store.RowLimit)

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================

Memory:
  Ring Log:          %s
  Pending Buffer:    %s
  Total RAM:         %s (recommended)

Storage:
  Store Rows:        %s
  Store Size:        %s
  Snapshot Size:     %s per snapshot
  Full Dump Size:    %s per dump

Retention:
  Ring Log:          %s
  Sample Store:      %s
`,
		FormatBytes(r.RingBytes),
		FormatBytes(r.PendingBytes),
		FormatBytes(r.TotalRAM),
		formatNumber(r.StoreRows),
		FormatBytes(r.StoreBytes),
		FormatBytes(r.SnapshotBytes),
		FormatBytes(r.DumpBytes),
		formatSeconds(r.RingSeconds),
		formatSeconds(r.StoreSeconds),
	)
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}

// formatSeconds formats a sample count at 1 Hz as days, hours and minutes.
func formatSeconds(s int64) string {
	d, s := s/86400, s%86400
	h, s := s/3600, s%3600
	m := s / 60
	switch {
	case d > 0:
		return fmt.Sprintf("%dd %dh", d, h)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	default:
		return fmt.Sprintf("%dm %ds", m, s%60)
	}
}
