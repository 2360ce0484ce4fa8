// Package snapshot maintains JSON snapshots of the in-memory ring log.
//
// Two kinds of snapshot exist:
//   - the real-time snapshot, always present, holding the most recent
//     samples
//   - windowed snapshots, one per requested window start time, each
//     covering a fixed number of samples from that start
//
// Window requests are reference counted and expire unless kept alive.
// Expiry is counted in appended samples, not wall-clock time, so it only
// advances while data arrives.
//
// The package also runs full saves of the ring log on a background
// goroutine with an observable status.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/qoslog/config"
	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/logging"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// View is read access to the ring log contents.
type View interface {
	// Len returns the number of retained samples.
	Len() int
	// StartTime returns the Unix time of the oldest sample.
	StartTime() int64
	// Range copies n samples starting at offset, clipped to the contents.
	Range(offset, n int) []types.Measurement
}

// Options configures the Manager.
type Options struct {
	// Dir holds windowed snapshots given by relative file name.
	Dir string

	// RealTimeFile is the path of the real-time snapshot.
	RealTimeFile string

	// RealTimeSamples is the size of the real-time snapshot and the
	// width of every window.
	RealTimeSamples int

	// DefaultExpire is the lifetime of a window, in samples.
	DefaultExpire int

	// Gzip writes a compressed copy of every snapshot.
	Gzip bool

	// Sources selects the snapshot arrays.
	Sources types.SourceSet

	// Workers bounds concurrent windowed snapshot writes.
	Workers int
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		RealTimeFile:    config.DefaultRealTimeFile,
		RealTimeSamples: config.DefaultRealTimeSamples,
		DefaultExpire:   config.DefaultExpireSeconds,
		Sources:         types.NewSourceSet(false),
		Workers:         config.DefaultSnapshotWorkers,
	}
}

// Descriptor describes one requested window.
type Descriptor struct {
	StartTime  int64
	FileName   string
	RefCount   int
	ExpireTime int
}

// Manager owns the window descriptors and writes all snapshots.
//
// Manager is safe for concurrent use.
type Manager struct {
	opts   Options
	fields []field
	logger *slog.Logger

	mu      sync.Mutex
	windows map[int64]*Descriptor

	saveMu sync.Mutex
	task   *saveTask

	stats managerStats
}

type managerStats struct {
	snapshotsWritten atomic.Int64
	writeErrors      atomic.Int64
	windowsExpired   atomic.Int64
	saves            atomic.Int64
	saveFailures     atomic.Int64
}

// New creates a Manager.
func New(opts Options) (*Manager, error) {
	var errs []error
	if opts.RealTimeFile == "" {
		errs = append(errs, errors.NewMissingField("realtime_file"))
	}
	if opts.RealTimeSamples <= 0 {
		errs = append(errs, errors.NewValidation("realtime_samples", "must be > 0"))
	}
	if opts.DefaultExpire <= 0 {
		errs = append(errs, errors.NewValidation("expire_seconds", "must be > 0"))
	}
	if err := opts.Sources.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	return &Manager{
		opts:    opts,
		fields:  buildFields(opts.Sources),
		logger:  logging.Component("snapshot"),
		windows: make(map[int64]*Descriptor),
	}, nil
}

// path resolves a window file name against Dir.
func (m *Manager) path(fileName string) string {
	if filepath.IsAbs(fileName) || m.opts.Dir == "" {
		return fileName
	}
	return filepath.Join(m.opts.Dir, fileName)
}

// =============================================================================
// Window requests
// =============================================================================

// Request registers interest in the window starting at startTime. The
// first request creates the window with the default expiry; later
// requests only add a reference and ignore fileName. A new window may not
// share its file with another snapshot.
func (m *Manager) Request(startTime int64, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.windows[startTime]; ok {
		d.RefCount++
		return nil
	}

	path := m.path(fileName)
	if path == m.opts.RealTimeFile {
		return errors.Wrapf(errors.ErrFileInUse, "%s is the real-time snapshot", path)
	}
	for _, d := range m.windows {
		if d.FileName == path {
			return errors.Wrapf(errors.ErrFileInUse, "%s is used by window %d", path, d.StartTime)
		}
	}

	m.windows[startTime] = &Descriptor{
		StartTime:  startTime,
		FileName:   path,
		RefCount:   1,
		ExpireTime: m.opts.DefaultExpire,
	}
	m.logger.Debug("window requested", "start", startTime, "file", fileName)
	return nil
}

// KeepAlive resets the expiry of the window. It returns false if the
// window does not exist, in which case the caller must request it again.
func (m *Manager) KeepAlive(startTime int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.windows[startTime]
	if !ok {
		return false
	}
	d.ExpireTime = m.opts.DefaultExpire
	return true
}

// Release drops one reference to the window. The last release deletes
// the window and its files. It returns false if the window does not exist.
func (m *Manager) Release(startTime int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.windows[startTime]
	if !ok {
		return false
	}
	d.RefCount--
	if d.RefCount == 0 {
		m.remove(d)
	}
	return true
}

// ReleaseAll deletes every window and its files.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.windows {
		m.remove(d)
	}
}

// Age counts delta samples against every window's expiry. Windows that
// reach zero are deleted with their files.
func (m *Manager) Age(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.windows {
		d.ExpireTime -= delta
		if d.ExpireTime <= 0 {
			m.stats.windowsExpired.Add(1)
			m.logger.Debug("window expired", "start", d.StartTime)
			m.remove(d)
		}
	}
}

// remove deletes d and its files. Callers hold m.mu.
func (m *Manager) remove(d *Descriptor) {
	if err := removeFiles(d.FileName); err != nil {
		m.logger.Warn("cannot remove snapshot", "file", d.FileName, "error", err)
	}
	delete(m.windows, d.StartTime)
}

// Window returns a copy of the descriptor of the window at startTime.
func (m *Manager) Window(startTime int64) (Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.windows[startTime]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Len returns the number of requested windows.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Windows returns copies of all descriptors, ordered by start time.
func (m *Manager) Windows() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedWindows()
}

func (m *Manager) sortedWindows() []Descriptor {
	out := make([]Descriptor, 0, len(m.windows))
	for _, d := range m.windows {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// =============================================================================
// Snapshot generation
// =============================================================================

// Regenerate rewrites the real-time snapshot and every windowed
// snapshot from v. A window without data in v still gets a valid empty
// snapshot carrying its requested start time. Identical state produces
// byte-identical files.
func (m *Manager) Regenerate(v View) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := v.Len()
	first := v.StartTime()
	n := m.opts.RealTimeSamples

	// real-time: the newest n samples, never expiring
	offset := max(size-n, 0)
	rtErr := m.write(m.opts.RealTimeFile, first+int64(offset), -1, v.Range(offset, size-offset))

	var g errgroup.Group
	g.SetLimit(m.opts.Workers)
	for _, d := range m.sortedWindows() {
		g.Go(func() error {
			// intersect [first, first+size) with [d.StartTime, d.StartTime+n)
			s := max(first, d.StartTime)
			e := min(first+int64(size), d.StartTime+int64(n))
			if e <= s {
				return m.write(d.FileName, d.StartTime, d.ExpireTime, nil)
			}
			return m.write(d.FileName, s, d.ExpireTime, v.Range(int(s-first), int(e-s)))
		})
	}
	return errors.Join(rtErr, g.Wait())
}

func (m *Manager) write(name string, start int64, expire int, ms []types.Measurement) error {
	data := encode(make([]byte, 0, 64+len(m.fields)*len(ms)*12), m.fields, start, expire, ms)
	if err := writeSnapshot(name, data, m.opts.Gzip); err != nil {
		m.stats.writeErrors.Add(1)
		ctx := logging.ContextWithWindow(logging.ContextWithFile(context.Background(), name), start)
		logging.WithContext(ctx).With("component", "snapshot").
			Warn("snapshot write failed", "error", err)
		return err
	}
	m.stats.snapshotsWritten.Add(1)
	return nil
}

// EnsureDir creates the directories snapshots are written to.
func (m *Manager) EnsureDir() error {
	dirs := []string{filepath.Dir(m.opts.RealTimeFile)}
	if m.opts.Dir != "" {
		dirs = append(dirs, m.opts.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Stats
// =============================================================================

// Stats contains manager statistics.
type Stats struct {
	Windows          int
	SnapshotsWritten int64
	WriteErrors      int64
	WindowsExpired   int64
	Saves            int64
	SaveFailures     int64
	SaveStatus       SaveStatus
}

// Stats returns manager statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	windows := len(m.windows)
	m.mu.Unlock()

	return Stats{
		Windows:          windows,
		SnapshotsWritten: m.stats.snapshotsWritten.Load(),
		WriteErrors:      m.stats.writeErrors.Load(),
		WindowsExpired:   m.stats.windowsExpired.Load(),
		Saves:            m.stats.saves.Load(),
		SaveFailures:     m.stats.saveFailures.Load(),
		SaveStatus:       m.SaveStatus(),
	}
}
