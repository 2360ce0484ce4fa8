// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Measurement: one per-second observation across all sources
//   - Source: a logical input or output feed, mapped to one table
//   - SourceSet: the runtime-configured set of active sources
//   - Summary: percentile statistics over a window of samples
package types
