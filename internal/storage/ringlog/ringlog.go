// Package ringlog keeps the most recent measurements in memory, one per
// second, and keeps the JSON snapshots of them up to date.
//
// Measurements arrive roughly once per second. Append compares the wall
// clock with the number of retained samples and fills short gaps by
// repeating the sample, so that index i always corresponds to
// StartTime()+i seconds.
package ringlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/qoslog/config"
	"github.com/xtxerr/qoslog/internal/clock"
	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/logging"
	"github.com/xtxerr/qoslog/internal/storage/aggregate"
	"github.com/xtxerr/qoslog/internal/storage/buffer"
	"github.com/xtxerr/qoslog/internal/storage/snapshot"
	"github.com/xtxerr/qoslog/internal/storage/types"
	"github.com/xtxerr/qoslog/internal/validation"
)

// Generator produces measurements for RandomFill.
type Generator interface {
	Next() types.Measurement
}

// Options configures a Log.
type Options struct {
	// Capacity is the number of retained samples.
	Capacity int

	// Sources selects the recorded sources.
	Sources types.SourceSet

	// Clock is the time source. Defaults to the system clock.
	Clock clock.Clock

	// Snapshots receives every change. Optional.
	Snapshots *snapshot.Manager
}

// Log is a fixed-capacity in-memory measurement log.
//
// Log is safe for concurrent use.
type Log struct {
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	buf       *buffer.RingBuffer[types.Measurement]
	startTime time.Time // zero while empty

	appended      atomic.Int64
	filled        atomic.Int64
	dropped       atomic.Int64
	regenFailures atomic.Int64
}

// New creates an empty Log.
func New(opts Options) (*Log, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = config.DefaultRingCapacity
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if err := opts.Sources.Validate(); err != nil {
		return nil, errors.Wrap(err, "ring log")
	}
	return &Log{
		opts:   opts,
		logger: logging.Component("ringlog"),
		buf:    buffer.New[types.Measurement](opts.Capacity),
	}, nil
}

// Append records m for the current second and returns the number of
// samples stored: 1 for the first sample; otherwise 2 when the log lags
// the clock by more than a second, 1 when it lags by more than half a
// second and 0 when it is up to date.
func (l *Log) Append(m types.Measurement) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.Clock.Now()

	added := 1
	if l.buf.IsEmpty() {
		l.startTime = now
	} else {
		gap := now.Sub(l.startTime).Seconds() - float64(l.buf.Len())
		switch {
		case gap > 1.0:
			added = 2
		case gap > 0.5:
			added = 1
		default:
			added = 0
		}
	}

	for range added {
		if l.buf.PushOverwrite(m) {
			l.startTime = l.startTime.Add(time.Second)
		}
	}

	switch added {
	case 0:
		l.dropped.Add(1)
		return 0
	case 2:
		l.filled.Add(1)
	}
	l.appended.Add(int64(added))

	if l.opts.Snapshots != nil {
		l.opts.Snapshots.Age(added)
		l.regenerate()
	}
	return added
}

// regenerate rewrites all snapshots. Callers hold l.mu.
func (l *Log) regenerate() {
	if err := l.opts.Snapshots.Regenerate(lockedView{l}); err != nil {
		l.regenFailures.Add(1)
		l.logger.Warn("snapshot regeneration failed", "error", err)
	}
}

// Clear empties the log and rewrites the snapshots empty.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Clear()
	l.startTime = time.Time{}
	if l.opts.Snapshots != nil {
		l.regenerate()
	}
	l.logger.Info("cleared")
}

// RandomFill replaces the contents with n generated samples ending now.
func (l *Log) RandomFill(n int, gen Generator) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n = min(n, l.opts.Capacity)
	l.buf.Clear()
	for range n {
		l.buf.PushOverwrite(gen.Next())
	}
	l.startTime = time.Time{}
	if n > 0 {
		l.startTime = l.opts.Clock.Now().Add(-time.Duration(n) * time.Second)
	}

	if l.opts.Snapshots != nil {
		l.regenerate()
	}
	l.logger.Info("filled with random data", "samples", n)
}

// Len returns the number of retained samples.
func (l *Log) Len() int {
	return l.buf.Len()
}

// StartTime returns the Unix time of the oldest sample, or 0 if empty.
func (l *Log) StartTime() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return unix(l.startTime)
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// At returns the sample at index i, 0 being the oldest.
func (l *Log) At(i int) (types.Measurement, bool) {
	return l.buf.At(i)
}

// Range copies up to n samples starting at index i.
func (l *Log) Range(i, n int) []types.Measurement {
	return l.buf.Range(i, n)
}

// Clone returns the start time and a copy of all samples.
func (l *Log) Clone() (int64, []types.Measurement) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return unix(l.startTime), l.buf.Snapshot()
}

// Summary summarizes field of source over the newest lastN
// samples. A lastN of zero or more than Len covers the whole log.
func (l *Log) Summary(source types.Source, field aggregate.Field, lastN int) (types.Summary, error) {
	if !l.opts.Sources.Contains(source) {
		return types.Summary{}, errors.Wrapf(errors.ErrInvalidSource, "source %s", source)
	}

	l.mu.RLock()
	size := l.buf.Len()
	if lastN <= 0 || lastN > size {
		lastN = size
	}
	offset := size - lastN
	start := unix(l.startTime) + int64(offset)
	ms := l.buf.Range(offset, lastN)
	l.mu.RUnlock()

	if field == aggregate.FieldMediaLossRate && source.Kind() != types.KindInput {
		return types.Summary{}, errors.NewInvalidValue("field", field, "only defined for inputs")
	}
	return aggregate.Summarize(source, field, start, ms), nil
}

// =============================================================================
// Saves and windows
// =============================================================================

// SaveFull writes a copy of the whole log to fileName in the background.
// See snapshot.Manager.SaveFull.
func (l *Log) SaveFull(fileName string) error {
	if l.opts.Snapshots == nil {
		return errors.Wrap(errors.ErrNotRunning, "no snapshot manager")
	}
	start, data := l.Clone()
	return l.opts.Snapshots.SaveFull(fileName, start, data)
}

// SaveStatus reports the state of the most recent SaveFull.
func (l *Log) SaveStatus() snapshot.SaveStatus {
	return l.opts.Snapshots.SaveStatus()
}

// WaitSave blocks until the most recent SaveFull completes.
func (l *Log) WaitSave(ctx context.Context) error {
	if l.opts.Snapshots == nil {
		return nil
	}
	return l.opts.Snapshots.WaitSave(ctx)
}

// RequestWindow registers a windowed snapshot starting at startTime and
// writes it immediately.
func (l *Log) RequestWindow(startTime int64, fileName string) error {
	if l.opts.Snapshots == nil {
		return errors.Wrap(errors.ErrNotRunning, "no snapshot manager")
	}
	if err := validation.ValidateWindowFile(fileName); err != nil {
		return errors.NewInvalidValue("window file", fileName, err.Error())
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.opts.Snapshots.Request(startTime, fileName); err != nil {
		return err
	}
	return l.opts.Snapshots.Regenerate(lockedView{l})
}

// KeepAlive extends the lifetime of the window at startTime.
func (l *Log) KeepAlive(startTime int64) error {
	if l.opts.Snapshots == nil || !l.opts.Snapshots.KeepAlive(startTime) {
		return errors.Wrapf(errors.ErrWindowNotFound, "window %d", startTime)
	}
	return nil
}

// ReleaseWindow drops one reference to the window at startTime.
func (l *Log) ReleaseWindow(startTime int64) error {
	if l.opts.Snapshots == nil || !l.opts.Snapshots.Release(startTime) {
		return errors.Wrapf(errors.ErrWindowNotFound, "window %d", startTime)
	}
	return nil
}

// =============================================================================
// Stats
// =============================================================================

// Stats contains ring log statistics.
type Stats struct {
	Len           int
	Capacity      int
	StartTime     int64
	Appended      int64 // samples stored, including gap fills
	GapFills      int64 // appends that stored two samples
	Dropped       int64 // appends that stored nothing
	Evicted       int64 // oldest samples overwritten at capacity
	RegenFailures int64
}

// Stats returns ring log statistics.
func (l *Log) Stats() Stats {
	return Stats{
		Len:           l.buf.Len(),
		Capacity:      l.opts.Capacity,
		StartTime:     l.StartTime(),
		Appended:      l.appended.Load(),
		GapFills:      l.filled.Load(),
		Dropped:       l.dropped.Load(),
		Evicted:       l.buf.Stats().DropCount,
		RegenFailures: l.regenFailures.Load(),
	}
}

// lockedView reads the log while its lock is held by the caller.
type lockedView struct{ l *Log }

func (v lockedView) Len() int         { return v.l.buf.Len() }
func (v lockedView) StartTime() int64 { return unix(v.l.startTime) }
func (v lockedView) Range(offset, n int) []types.Measurement {
	return v.l.buf.Range(offset, n)
}
