// Package csvfmt renders measurements as fixed-width comma-separated text.
//
// The layout is one header row followed by one row per second:
//
//	Time, Active Input, {Rate, DF, MLR} per input, {Rate, DF} per output
//
// Column order follows the canonical order of the configured SourceSet.
package csvfmt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// LocalTimeLayout renders timestamps of ring-log saves.
const LocalTimeLayout = "2006-01-02 15:04:05"

// TimeFormat renders the Time column.
type TimeFormat func(ts int64) string

// UnixSeconds renders ts as decimal Unix seconds.
func UnixSeconds(ts int64) string {
	return strconv.FormatInt(ts, 10)
}

// LocalTime renders ts in the local time zone.
func LocalTime(ts int64) string {
	return time.Unix(ts, 0).Format(LocalTimeLayout)
}

// Formatter converts one measurement into one CSV line.
type Formatter struct {
	set     types.SourceSet
	timeFmt TimeFormat
}

// New creates a formatter for the given sources. A nil tf renders Unix seconds.
func New(set types.SourceSet, tf TimeFormat) *Formatter {
	if tf == nil {
		tf = UnixSeconds
	}
	return &Formatter{set: set, timeFmt: tf}
}

// AppendHeader appends the header line to dst.
func (f *Formatter) AppendHeader(dst []byte) []byte {
	dst = fmt.Appendf(dst, "%20s,%15s", "Time", "Active Input")
	for _, s := range f.set.Sources() {
		for _, label := range s.Labels(f.set.Layer()) {
			dst = fmt.Appendf(dst, ",%10s", label)
		}
	}
	return append(dst, '\n')
}

// AppendRow appends the line of m, taken at ts, to dst.
func (f *Formatter) AppendRow(dst []byte, ts int64, m *types.Measurement) []byte {
	dst = fmt.Appendf(dst, "%20s,%15d", f.timeFmt(ts), m.ActiveInput)
	for _, s := range f.set.Inputs() {
		in := s.Input(m)
		dst = fmt.Appendf(dst, ",%10d,%10.6f,%10d", in.Rate, in.DelayFactor, in.MediaLossRate)
	}
	for _, s := range f.set.Outputs() {
		out := s.Output(m)
		dst = fmt.Appendf(dst, ",%10d,%10.6f", out.Rate, out.DelayFactor)
	}
	return append(dst, '\n')
}

// =============================================================================
// Writer
// =============================================================================

// Writer streams formatted lines to an io.Writer.
type Writer struct {
	w    *bufio.Writer
	f    *Formatter
	buf  []byte
	rows int
}

// NewWriter creates a buffered Writer.
func NewWriter(w io.Writer, f *Formatter) *Writer {
	return &Writer{
		w:   bufio.NewWriterSize(w, 64*1024),
		f:   f,
		buf: make([]byte, 0, 512),
	}
}

// WriteHeader writes the header line.
func (w *Writer) WriteHeader() error {
	w.buf = w.f.AppendHeader(w.buf[:0])
	return w.flushLine()
}

// Write writes the line of m, taken at ts.
func (w *Writer) Write(ts int64, m *types.Measurement) error {
	w.buf = w.f.AppendRow(w.buf[:0], ts, m)
	if err := w.flushLine(); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *Writer) flushLine() error {
	if len(w.buf) == 0 {
		return errors.ErrFormat
	}
	_, err := w.w.Write(w.buf)
	return err
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int {
	return w.rows
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// WriteFile writes a complete dump of ms, the first taken at start, to path.
func WriteFile(path string, f *Formatter, start int64, ms []types.Measurement) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errors.NewFileCreate(path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	w := NewWriter(file, f)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for i := range ms {
		if err := w.Write(start+int64(i), &ms[i]); err != nil {
			return err
		}
	}
	return w.Flush()
}
