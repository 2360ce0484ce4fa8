// Package parquet implements Parquet export of measurements.
//
// The package provides:
//   - MeasurementWriter/MeasurementReader for per-source measurement rows
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Conversion between measurements and long-format Parquet rows
package parquet
