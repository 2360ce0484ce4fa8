package retention

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/qoslog/internal/clock"
	"github.com/xtxerr/qoslog/internal/storage/config"
)

var now = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, maxAge time.Duration) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Retention.DumpDir = dir
	cfg.Retention.MaxAge = maxAge
	return New(cfg, clock.NewManual(now)), dir
}

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func TestDumpName(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 30, 5, 0, time.UTC)
	tests := []struct {
		kind Kind
		want string
	}{
		{KindCSV, "store_2026-01-15_10-30-05.csv"},
		{KindParquet, "store_2026-01-15_10-30-05.parquet"},
	}
	for _, tt := range tests {
		if got := DumpName(LabelStore, ts, tt.kind); got != tt.want {
			t.Errorf("DumpName(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestParseFileTime(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		expected time.Time
		hasError bool
	}{
		{
			name:     "csv",
			filename: "store_2026-01-15_10-30-05.csv",
			expected: time.Date(2026, 1, 15, 10, 30, 5, 0, time.UTC),
		},
		{
			name:     "parquet",
			filename: "ring_2025-12-31_23-59-59.parquet",
			expected: time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
		},
		{
			name:     "no label",
			filename: "2026-01-15_10-30-05.csv",
			hasError: true,
		},
		{
			name:     "user file",
			filename: "store_export.csv",
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseFileTime(tt.filename)
			if tt.hasError {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Equal(tt.expected) {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestRunCleanup(t *testing.T) {
	m, dir := newTestManager(t, 24*time.Hour)

	old := DumpName(LabelStore, now.Add(-48*time.Hour), KindCSV)
	oldParquet := DumpName(LabelStore, now.Add(-25*time.Hour), KindParquet)
	fresh := DumpName(LabelStore, now.Add(-time.Hour), KindCSV)
	writeFile(t, dir, old, 100)
	writeFile(t, dir, oldParquet, 50)
	writeFile(t, dir, fresh, 10)
	writeFile(t, dir, "manual.csv", 10)
	writeFile(t, dir, "notes.txt", 10)

	results := m.RunCleanup()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	csv := results[0]
	if csv.Kind != KindCSV || csv.FilesDeleted != 1 || csv.BytesFreed != 100 || csv.FilesSkipped != 2 {
		t.Errorf("unexpected csv result %+v", csv)
	}
	if results[1].FilesDeleted != 1 || results[1].BytesFreed != 50 {
		t.Errorf("unexpected parquet result %+v", results[1])
	}

	for name, want := range map[string]bool{
		old: false, oldParquet: false, fresh: true, "manual.csv": true, "notes.txt": true,
	} {
		if exists(dir, name) != want {
			t.Errorf("%s exists = %v, want %v", name, !want, want)
		}
	}

	stats := m.Stats()
	if stats.FilesDeleted != 2 || stats.BytesFreed != 150 || !stats.LastRunTime.Equal(now) {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestDryRun(t *testing.T) {
	m, dir := newTestManager(t, time.Hour)
	name := DumpName(LabelStore, now.Add(-2*time.Hour), KindCSV)
	writeFile(t, dir, name, 10)

	results := m.DryRun()
	if results[0].FilesDeleted != 1 {
		t.Errorf("dry run should report 1 file, got %d", results[0].FilesDeleted)
	}
	if !exists(dir, name) {
		t.Error("dry run must not delete files")
	}
	if m.Stats().FilesDeleted != 0 {
		t.Error("dry run must not update stats")
	}
}

func TestZeroMaxAgeKeepsEverything(t *testing.T) {
	m, dir := newTestManager(t, 0)
	name := DumpName(LabelStore, now.Add(-1000*time.Hour), KindParquet)
	writeFile(t, dir, name, 10)

	m.RunCleanup()
	if !exists(dir, name) {
		t.Error("zero max age must keep dumps")
	}
}

func TestMissingDirectory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retention.DumpDir = filepath.Join(t.TempDir(), "missing")
	m := New(cfg, clock.NewManual(now))

	for _, r := range m.RunCleanup() {
		if len(r.Errors) != 0 {
			t.Errorf("missing directory should not be an error: %v", r.Errors)
		}
	}
}

func TestDiskUsage(t *testing.T) {
	m, dir := newTestManager(t, time.Hour)
	writeFile(t, dir, DumpName(LabelStore, now, KindCSV), 1024)
	writeFile(t, dir, DumpName(LabelStore, now.Add(time.Second), KindCSV), 1024)
	writeFile(t, dir, DumpName(LabelStore, now, KindParquet), 512)

	usage := m.GetDiskUsage()
	if u := usage[KindCSV]; u.FileCount != 2 || u.TotalSize != 2048 {
		t.Errorf("csv usage = %+v", u)
	}
	if u := usage[KindParquet]; u.FileCount != 1 || u.TotalSize != 512 {
		t.Errorf("parquet usage = %+v", u)
	}

	out := m.FormatDiskUsage()
	if !strings.Contains(out, "csv: 2 files, 2.00 KB") || !strings.Contains(out, "Total: 3 files") {
		t.Errorf("unexpected report:\n%s", out)
	}
}
