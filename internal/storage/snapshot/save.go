package snapshot

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/xtxerr/qoslog/internal/clock"
	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/logging"
	"github.com/xtxerr/qoslog/internal/storage/csvfmt"
	"github.com/xtxerr/qoslog/internal/storage/parquet"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// SaveStatus is the state of the most recent full save.
type SaveStatus int32

const (
	SaveIdle SaveStatus = iota
	SaveExecuting
	SaveFailed
	SaveSucceeded
	SaveTerminated
)

func (s SaveStatus) String() string {
	switch s {
	case SaveIdle:
		return "idle"
	case SaveExecuting:
		return "executing"
	case SaveFailed:
		return "failed"
	case SaveSucceeded:
		return "succeeded"
	case SaveTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// saveTask is one full save. The goroutine running it owns data; err is
// written before done is closed.
type saveTask struct {
	fileName string
	start    int64
	data     []types.Measurement

	status atomic.Int32
	done   chan struct{}
	err    error
}

// SaveFull writes data, the first sample taken at start, to fileName on a
// background goroutine. Names ending in .parquet produce Parquet; all
// others produce CSV with local timestamps. The caller must not modify
// data afterwards.
//
// Only one save runs at a time: while one is executing SaveFull returns
// ErrSaveInProgress.
func (m *Manager) SaveFull(fileName string, start int64, data []types.Measurement) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.task != nil && SaveStatus(m.task.status.Load()) == SaveExecuting {
		return errors.ErrSaveInProgress
	}

	t := &saveTask{
		fileName: fileName,
		start:    start,
		data:     data,
		done:     make(chan struct{}),
	}
	t.status.Store(int32(SaveExecuting))
	m.task = t
	m.stats.saves.Add(1)

	go m.runSave(t)
	return nil
}

func (m *Manager) runSave(t *saveTask) {
	defer close(t.done)

	log := logging.WithContext(logging.ContextWithFile(context.Background(), t.fileName)).
		With("component", "snapshot")
	sw := clock.StartStopwatch()

	if strings.HasSuffix(t.fileName, ".parquet") {
		t.err = parquet.WriteFile(t.fileName, m.opts.Sources, parquet.DefaultOptions(), t.start, t.data)
	} else {
		t.err = csvfmt.WriteFile(t.fileName, csvfmt.New(m.opts.Sources, csvfmt.LocalTime), t.start, t.data)
	}

	if t.err != nil {
		m.stats.saveFailures.Add(1)
		log.Error("save failed", "error", t.err)
		t.status.Store(int32(SaveFailed))
		return
	}
	log.Info("save complete", "samples", len(t.data), "duration", sw.Stop())
	t.status.Store(int32(SaveSucceeded))
}

// SaveStatus reports the state of the most recent save without blocking.
// It is SaveIdle before any save and SaveTerminated for a nil Manager.
func (m *Manager) SaveStatus() SaveStatus {
	if m == nil {
		return SaveTerminated
	}
	m.saveMu.Lock()
	t := m.task
	m.saveMu.Unlock()

	if t == nil {
		return SaveIdle
	}
	return SaveStatus(t.status.Load())
}

// WaitSave blocks until the most recent save finishes or ctx is done and
// returns the save's error. It returns nil immediately if no save was started.
func (m *Manager) WaitSave(ctx context.Context) error {
	m.saveMu.Lock()
	t := m.task
	m.saveMu.Unlock()

	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
