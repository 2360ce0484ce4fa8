// Package retention removes expired full dumps from the dump directory.
//
// Dumps written by the daemon are named by DumpName, which encodes what
// was dumped and when. Files whose name does not parse are never touched.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/qoslog/internal/clock"
	"github.com/xtxerr/qoslog/internal/logging"
	"github.com/xtxerr/qoslog/internal/storage/config"
)

// Kind is the format of a dump file.
type Kind int

const (
	KindCSV Kind = iota
	KindParquet
)

// AllKinds returns the managed dump formats.
func AllKinds() []Kind {
	return []Kind{KindCSV, KindParquet}
}

func (k Kind) String() string {
	switch k {
	case KindCSV:
		return "csv"
	case KindParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// Ext returns the file extension including the dot.
func (k Kind) Ext() string {
	return "." + k.String()
}

// Dump labels.
const (
	LabelStore = "store"
	LabelRing  = "ring"
)

const nameLayout = "2006-01-02_15-04-05"

// DumpName returns the file name for a dump of label taken at t.
func DumpName(label string, t time.Time, k Kind) string {
	return label + "_" + t.UTC().Format(nameLayout) + k.Ext()
}

// Manager handles automatic cleanup of expired dumps.
type Manager struct {
	mu     sync.RWMutex
	dir    string
	maxAge time.Duration
	clock  clock.Clock
	logger *slog.Logger
	stats  Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	Kind         Kind
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// New creates a new retention manager for the configured dump directory.
// A nil clock means the system clock.
func New(cfg *config.Config, clk clock.Clock) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if clk == nil {
		clk = clock.System{}
	}

	return &Manager{
		dir:    cfg.DumpDir(),
		maxAge: cfg.Retention.MaxAge,
		clock:  clk,
		logger: logging.Component("retention"),
	}
}

// Dir returns the managed directory.
func (m *Manager) Dir() string {
	return m.dir
}

// RunCleanup removes expired dumps of every kind. A zero max age keeps
// everything.
func (m *Manager) RunCleanup() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.clock.Now()

	var results []CleanupResult
	for _, kind := range AllKinds() {
		result := m.cleanup(kind, false)
		results = append(results, result)

		m.stats.FilesDeleted += int64(result.FilesDeleted)
		m.stats.BytesFreed += result.BytesFreed
		m.stats.FilesSkipped += int64(result.FilesSkipped)
		m.stats.Errors += int64(len(result.Errors))

		if result.FilesDeleted > 0 {
			m.logger.Info("expired dumps removed", "kind", kind,
				"files", result.FilesDeleted, "bytes", result.BytesFreed)
		}
		for _, err := range result.Errors {
			m.logger.Warn("dump cleanup failed", "kind", kind, "error", err)
		}
	}

	return results
}

// DryRun reports what RunCleanup would remove without deleting files.
func (m *Manager) DryRun() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []CleanupResult
	for _, kind := range AllKinds() {
		results = append(results, m.cleanup(kind, true))
	}
	return results
}

func (m *Manager) cleanup(kind Kind, dryRun bool) CleanupResult {
	result := CleanupResult{Kind: kind}
	if m.maxAge <= 0 {
		return result
	}
	cutoff := m.clock.Now().Add(-m.maxAge)

	files, err := m.listFiles(kind)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		return result
	}

	for _, file := range files {
		fileTime, err := parseFileTime(file.name)
		if err != nil || fileTime.After(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	return result
}

type fileInfo struct {
	name string
	path string
	size int64
}

// listFiles lists the dump files of one kind, oldest first.
func (m *Manager) listFiles(kind Kind) ([]fileInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != kind.Ext() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			name: name,
			path: filepath.Join(m.dir, name),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})
	return files, nil
}

// parseFileTime extracts the dump time from a DumpName file name.
func parseFileTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	label, stamp, _ := strings.Cut(base, "_")
	if label != LabelStore && label != LabelRing {
		return time.Time{}, fmt.Errorf("not a dump file: %s", name)
	}
	return time.Parse(nameLayout, stamp)
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// GetDiskUsage returns disk usage per dump kind.
func (m *Manager) GetDiskUsage() map[Kind]DiskUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage := make(map[Kind]DiskUsage)
	for _, kind := range AllKinds() {
		files, err := m.listFiles(kind)
		if err != nil {
			continue
		}
		var total int64
		for _, f := range files {
			total += f.size
		}
		usage[kind] = DiskUsage{FileCount: len(files), TotalSize: total}
	}
	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	usage := m.GetDiskUsage()

	var b strings.Builder
	var totalSize int64
	var totalFiles int
	for _, kind := range AllKinds() {
		u := usage[kind]
		totalSize += u.TotalSize
		totalFiles += u.FileCount
		fmt.Fprintf(&b, "  %s: %d files, %s\n", kind, u.FileCount, config.FormatBytes(u.TotalSize))
	}

	return fmt.Sprintf("Dump usage (%s):\n%s  Total: %d files, %s\n",
		m.dir, b.String(), totalFiles, config.FormatBytes(totalSize))
}
