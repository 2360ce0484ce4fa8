package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/qoslog/internal/storage/types"
)

// MeasurementReader reads measurement rows from a Parquet file.
type MeasurementReader struct {
	file   *os.File
	reader *parquet.GenericReader[MeasurementRow]
}

// NewMeasurementReader creates a new measurement Parquet reader.
func NewMeasurementReader(path string) (*MeasurementReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	return &MeasurementReader{
		file:   f,
		reader: parquet.NewGenericReader[MeasurementRow](pf),
	}, nil
}

// ReadAll reads all rows from the file.
func (r *MeasurementReader) ReadAll() ([]MeasurementRow, error) {
	rows := make([]MeasurementRow, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows[:n], nil
}

// ReadMeasurements folds all rows back into consecutive measurements.
// It returns the time of the first measurement.
func (r *MeasurementReader) ReadMeasurements() (int64, []types.Measurement, error) {
	rows, err := r.ReadAll()
	if err != nil {
		return 0, nil, err
	}
	if len(rows) == 0 {
		return 0, nil, nil
	}

	start := rows[0].Time
	end := start
	for i := range rows {
		if rows[i].Time < start {
			return 0, nil, fmt.Errorf("row %d at %d precedes first row at %d", i, rows[i].Time, start)
		}
		end = max(end, rows[i].Time)
	}

	ms := make([]types.Measurement, end-start+1)
	for i := range rows {
		if err := RowToMeasurement(&rows[i], &ms[rows[i].Time-start]); err != nil {
			return 0, nil, err
		}
	}
	return start, ms, nil
}

// NumRows returns the total number of rows in the file.
func (r *MeasurementReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *MeasurementReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a measurement Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	r, err := NewMeasurementReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: r.NumRows(),
	}, nil
}
