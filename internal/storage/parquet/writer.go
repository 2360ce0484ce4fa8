package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// MeasurementRow is one source of one measurement in Parquet format.
// A measurement expands to one row per active source.
type MeasurementRow struct {
	Time          int64     `parquet:"time"`
	Source        string    `parquet:"source,dict"`
	ActiveInput   int32     `parquet:"active_input"`
	DelayFactor   float32   `parquet:"delay_factor"`
	MediaLossRate int64     `parquet:"media_loss_rate"`
	Rate          int64     `parquet:"rate"`
	Clock         []float32 `parquet:"clock,list"`
}

// MeasurementToRows appends the rows of m, taken at ts, to dst.
func MeasurementToRows(dst []MeasurementRow, set types.SourceSet, ts int64, m *types.Measurement) []MeasurementRow {
	for _, src := range set.Sources() {
		r := src.Row(m)
		dst = append(dst, MeasurementRow{
			Time:          ts,
			Source:        src.String(),
			ActiveInput:   int32(m.ActiveInput),
			DelayFactor:   r.DelayFactor,
			MediaLossRate: int64(r.MediaLossRate),
			Rate:          int64(r.Rate),
			Clock:         append([]float32(nil), r.Clock.Valid()...),
		})
	}
	return dst
}

// RowToMeasurement stores r into m.
func RowToMeasurement(r *MeasurementRow, m *types.Measurement) error {
	src, err := types.ParseSource(r.Source)
	if err != nil {
		return err
	}
	if len(r.Clock) > types.MaxClockSamples {
		return fmt.Errorf("row at %d holds %d clock samples", r.Time, len(r.Clock))
	}

	var clock types.ClockSamples
	clock.Count = uint8(copy(clock.Values[:], r.Clock))

	m.ActiveInput = uint32(r.ActiveInput)
	src.SetRow(m, types.Row{
		DelayFactor:   r.DelayFactor,
		MediaLossRate: uint32(r.MediaLossRate),
		Rate:          uint32(r.Rate),
		Clock:         clock,
	})
	return nil
}

// MeasurementWriter writes measurements to a Parquet file.
type MeasurementWriter struct {
	mu       sync.Mutex
	path     string
	set      types.SourceSet
	file     *os.File
	writer   *parquet.GenericWriter[MeasurementRow]
	rows     []MeasurementRow
	rowCount int64
	closed   bool
}

// NewMeasurementWriter creates a new measurement Parquet writer.
func NewMeasurementWriter(path string, set types.SourceSet, opts Options) (*MeasurementWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.NewFileCreate(path, err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}

	return &MeasurementWriter{
		path:   path,
		set:    set,
		file:   f,
		writer: parquet.NewGenericWriter[MeasurementRow](f, writerOpts...),
	}, nil
}

// Write writes measurements, the i-th taken at start+i.
func (w *MeasurementWriter) Write(start int64, ms []types.Measurement) error {
	if len(ms) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	w.rows = w.rows[:0]
	for i := range ms {
		w.rows = MeasurementToRows(w.rows, w.set, start+int64(i), &ms[i])
	}

	n, err := w.writer.Write(w.rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *MeasurementWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *MeasurementWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *MeasurementWriter) Path() string {
	return w.path
}

// WriteFile writes ms, the first taken at start, to a new Parquet file.
func WriteFile(path string, set types.SourceSet, opts Options, start int64, ms []types.Measurement) error {
	w, err := NewMeasurementWriter(path, set, opts)
	if err != nil {
		return err
	}
	if err := w.Write(start, ms); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
