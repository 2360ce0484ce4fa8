package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/parquet"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// sliceView serves a fixed slice as ring log contents.
type sliceView struct {
	start int64
	ms    []types.Measurement
}

func (v *sliceView) Len() int         { return len(v.ms) }
func (v *sliceView) StartTime() int64 { return v.start }
func (v *sliceView) Range(off, n int) []types.Measurement {
	return append([]types.Measurement(nil), v.ms[off:off+n]...)
}

func testView(start int64, n int) *sliceView {
	v := &sliceView{start: start}
	for i := range n {
		var m types.Measurement
		m.ActiveInput = 1
		m.HP1.Rate = uint32(1000 + i)
		m.HP2.Rate = uint32(2000 + i)
		m.HPOut.Rate = uint32(3000 + i)
		m.HP1.DelayFactor = float32(i) / 1000
		v.ms = append(v.ms, m)
	}
	return v
}

func newTestManager(t *testing.T, n int) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.Dir = dir
	opts.RealTimeFile = filepath.Join(dir, "realtime.json")
	opts.RealTimeSamples = n
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"no realtime file", func(o *Options) { o.RealTimeFile = "" }},
		{"zero samples", func(o *Options) { o.RealTimeSamples = 0 }},
		{"zero expire", func(o *Options) { o.DefaultExpire = 0 }},
		{"empty sources", func(o *Options) { o.Sources = types.SourceSet{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			if _, err := New(opts); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestEncode(t *testing.T) {
	var a, b types.Measurement
	a.ActiveInput = 1
	a.HP1 = types.InputData{Rate: 10, MediaLossRate: 1, DelayFactor: 0.5}
	a.HP2 = types.InputData{Rate: 20, MediaLossRate: 2, DelayFactor: 0.25}
	a.HPOut = types.OutputData{Rate: 30, DelayFactor: 0.125}
	b.ActiveInput = 2
	b.HP1 = types.InputData{Rate: 11, MediaLossRate: 0, DelayFactor: 0.001}
	b.HP2 = types.InputData{Rate: 21, MediaLossRate: 3, DelayFactor: 0.002}
	b.HPOut = types.OutputData{Rate: 31, DelayFactor: 0.003}

	got := string(encode(nil, buildFields(types.NewSourceSet(false)), 100, -1, []types.Measurement{a, b}))
	want := `{ "entryCount": 2, "startTime": 100, "expireTime": -1, ` +
		`"active": [1,2], "hp1Rate": [10,11], "hp2Rate": [20,21], ` +
		`"hp1MLR": [1,0], "hp2MLR": [2,3], "outRate": [30,31], ` +
		`"hp1DF": [0.500000,0.001000], "hp2DF": [0.250000,0.002000], ` +
		`"outDF": [0.125000,0.003000] }`
	if got != want {
		t.Errorf("encode() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildFieldsLayer(t *testing.T) {
	var names []string
	for _, f := range buildFields(types.NewSourceSet(true)) {
		names = append(names, f.name)
	}
	want := "active hp1Rate hp2Rate hp1MLR hp2MLR lp1Rate lp2Rate lp1MLR lp2MLR " +
		"outRate lpOutRate hp1DF hp2DF lp1DF lp2DF outDF lpOutDF"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("fields = %s, want %s", got, want)
	}
}

func TestRealTimeSnapshot(t *testing.T) {
	m, dir := newTestManager(t, 3)

	if err := m.Regenerate(testView(100, 5)); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	got := readFile(t, filepath.Join(dir, "realtime.json"))
	if !strings.HasPrefix(got, `{ "entryCount": 3, "startTime": 102, "expireTime": -1, "active": [1,1,1], "hp1Rate": [1002,1003,1004]`) {
		t.Errorf("realtime snapshot = %s", got)
	}

	// fewer samples than the snapshot width
	if err := m.Regenerate(testView(100, 2)); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	got = readFile(t, filepath.Join(dir, "realtime.json"))
	if !strings.HasPrefix(got, `{ "entryCount": 2, "startTime": 100,`) {
		t.Errorf("realtime snapshot = %s", got)
	}
}

func TestWindowIntersection(t *testing.T) {
	m, dir := newTestManager(t, 4)
	view := testView(100, 10)

	tests := []struct {
		start  int64
		file   string
		prefix string
	}{
		{90, "before.json", `{ "entryCount": 0, "startTime": 90, "expireTime": 30, "active": [],`},
		{98, "overlap.json", `{ "entryCount": 2, "startTime": 100, "expireTime": 30, "active": [1,1], "hp1Rate": [1000,1001]`},
		{105, "inside.json", `{ "entryCount": 4, "startTime": 105, "expireTime": 30, "active": [1,1,1,1], "hp1Rate": [1005,1006,1007,1008]`},
		{108, "tail.json", `{ "entryCount": 2, "startTime": 108, "expireTime": 30, "active": [1,1], "hp1Rate": [1008,1009]`},
		{200, "future.json", `{ "entryCount": 0, "startTime": 200, "expireTime": 30, "active": [],`},
	}
	for _, tt := range tests {
		m.Request(tt.start, tt.file)
	}
	if err := m.Regenerate(view); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	for _, tt := range tests {
		got := readFile(t, filepath.Join(dir, tt.file))
		if !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("%s = %s, want prefix %s", tt.file, got, tt.prefix)
		}
	}
}

func TestRegenerateDeterministic(t *testing.T) {
	m, dir := newTestManager(t, 4)
	m.Request(102, "w.json")
	view := testView(100, 10)

	if err := m.Regenerate(view); err != nil {
		t.Fatal(err)
	}
	first := readFile(t, filepath.Join(dir, "w.json"))
	rt := readFile(t, filepath.Join(dir, "realtime.json"))

	if err := m.Regenerate(view); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(dir, "w.json")); got != first {
		t.Errorf("window snapshot changed:\n%s\n%s", first, got)
	}
	if got := readFile(t, filepath.Join(dir, "realtime.json")); got != rt {
		t.Errorf("realtime snapshot changed:\n%s\n%s", rt, got)
	}
}

func TestWindowExpiry(t *testing.T) {
	m, dir := newTestManager(t, 4)
	m.Request(100, "w.json")
	if err := m.Regenerate(testView(100, 4)); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "w.json")

	m.Age(29)
	if _, ok := m.Window(100); !ok {
		t.Fatal("window expired early")
	}
	m.Age(1)
	if _, ok := m.Window(100); ok {
		t.Fatal("window should have expired")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("snapshot file should be deleted, stat err = %v", err)
	}
	if got := m.Stats().WindowsExpired; got != 1 {
		t.Errorf("WindowsExpired = %d, want 1", got)
	}
}

func TestKeepAlive(t *testing.T) {
	m, _ := newTestManager(t, 4)

	if m.KeepAlive(100) {
		t.Error("KeepAlive() on missing window should return false")
	}

	m.Request(100, "w.json")
	m.Age(20)
	if !m.KeepAlive(100) {
		t.Fatal("KeepAlive() = false")
	}
	d, _ := m.Window(100)
	if d.ExpireTime != 30 {
		t.Errorf("ExpireTime = %d, want 30", d.ExpireTime)
	}

	m.Age(20)
	if _, ok := m.Window(100); !ok {
		t.Error("window expired despite keepalive")
	}
}

func TestReleaseRefCount(t *testing.T) {
	m, dir := newTestManager(t, 4)
	m.Request(100, "w.json")
	m.Request(100, "ignored.json")

	d, _ := m.Window(100)
	if d.RefCount != 2 {
		t.Fatalf("RefCount = %d, want 2", d.RefCount)
	}
	if d.FileName != filepath.Join(dir, "w.json") {
		t.Errorf("FileName = %s", d.FileName)
	}
	if err := m.Regenerate(testView(100, 4)); err != nil {
		t.Fatal(err)
	}

	if !m.Release(100) {
		t.Fatal("Release() = false")
	}
	if _, ok := m.Window(100); !ok {
		t.Fatal("window removed with references left")
	}
	if !m.Release(100) {
		t.Fatal("Release() = false")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
	if _, err := os.Stat(filepath.Join(dir, "w.json")); !os.IsNotExist(err) {
		t.Error("snapshot file should be deleted")
	}
	if m.Release(100) {
		t.Error("Release() on missing window should return false")
	}
}

func TestRequestRejectsSharedFile(t *testing.T) {
	m, dir := newTestManager(t, 4)
	if err := m.Request(100, "w.json"); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	tests := []struct {
		name string
		file string
	}{
		{"other window", "w.json"},
		{"same path absolute", filepath.Join(dir, "w.json")},
		{"real-time snapshot", "realtime.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Request(200, tt.file); !errors.Is(err, errors.ErrFileInUse) {
				t.Errorf("Request() error = %v, want ErrFileInUse", err)
			}
		})
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}

	// a rejected request must not disturb the live window's file
	if err := m.Regenerate(testView(100, 4)); err != nil {
		t.Fatal(err)
	}
	if m.Release(200) {
		t.Error("Release() of a rejected window should return false")
	}
	if _, err := os.Stat(filepath.Join(dir, "w.json")); err != nil {
		t.Errorf("live window file: %v", err)
	}
}

func TestReleaseAll(t *testing.T) {
	m, _ := newTestManager(t, 4)
	m.Request(100, "a.json")
	m.Request(200, "b.json")
	m.ReleaseAll()
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestWindowsSorted(t *testing.T) {
	m, _ := newTestManager(t, 4)
	for _, s := range []int64{300, 100, 200} {
		m.Request(s, fmt.Sprintf("w%d.json", s))
	}
	ws := m.Windows()
	for i, want := range []int64{100, 200, 300} {
		if ws[i].StartTime != want {
			t.Errorf("Windows()[%d] = %d, want %d", i, ws[i].StartTime, want)
		}
	}
}

func TestGzip(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.RealTimeFile = filepath.Join(dir, "realtime.json")
	opts.RealTimeSamples = 4
	opts.Gzip = true
	m, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Regenerate(testView(100, 4)); err != nil {
		t.Fatal(err)
	}

	plain := readFile(t, opts.RealTimeFile)
	f, err := os.Open(opts.RealTimeFile + ".gz")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte(plain)) {
		t.Errorf("gzip copy differs from snapshot")
	}
}

func TestRegenerateWriteError(t *testing.T) {
	m, _ := newTestManager(t, 4)
	m.Request(100, filepath.Join(t.TempDir(), "missing", "w.json"))

	err := m.Regenerate(testView(100, 4))
	if !errors.IsResource(err) {
		t.Errorf("Regenerate() error = %v, want resource error", err)
	}
	if m.Stats().WriteErrors != 1 {
		t.Errorf("WriteErrors = %d, want 1", m.Stats().WriteErrors)
	}
}

// =============================================================================
// Save
// =============================================================================

func TestSaveStatusIdle(t *testing.T) {
	m, _ := newTestManager(t, 4)
	if got := m.SaveStatus(); got != SaveIdle {
		t.Errorf("SaveStatus() = %v, want idle", got)
	}
	if err := m.WaitSave(context.Background()); err != nil {
		t.Errorf("WaitSave() without save = %v", err)
	}

	var nilManager *Manager
	if got := nilManager.SaveStatus(); got != SaveTerminated {
		t.Errorf("nil SaveStatus() = %v, want terminated", got)
	}
}

func TestSaveFullCSV(t *testing.T) {
	m, dir := newTestManager(t, 4)
	path := filepath.Join(dir, "save.csv")
	view := testView(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local).Unix(), 3)

	if err := m.SaveFull(path, view.start, view.ms); err != nil {
		t.Fatalf("SaveFull() error = %v", err)
	}
	if err := m.WaitSave(context.Background()); err != nil {
		t.Fatalf("WaitSave() error = %v", err)
	}
	if got := m.SaveStatus(); got != SaveSucceeded {
		t.Errorf("SaveStatus() = %v, want succeeded", got)
	}

	lines := strings.Split(strings.TrimSpace(readFile(t, path)), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	if !strings.HasPrefix(lines[1], " 2024-01-02 03:04:05,") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[3], " 2024-01-02 03:04:07,") {
		t.Errorf("last row = %q", lines[3])
	}
}

func TestSaveFullParquet(t *testing.T) {
	m, dir := newTestManager(t, 4)
	path := filepath.Join(dir, "save.parquet")
	view := testView(500, 5)

	if err := m.SaveFull(path, view.start, view.ms); err != nil {
		t.Fatal(err)
	}
	if err := m.WaitSave(context.Background()); err != nil {
		t.Fatal(err)
	}

	r, err := parquet.NewMeasurementReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	start, ms, err := r.ReadMeasurements()
	if err != nil {
		t.Fatal(err)
	}
	if start != 500 || len(ms) != 5 {
		t.Errorf("got start=%d n=%d, want 500 5", start, len(ms))
	}
}

func TestSaveFullFailure(t *testing.T) {
	m, _ := newTestManager(t, 4)
	path := filepath.Join(t.TempDir(), "missing", "save.csv")

	if err := m.SaveFull(path, 0, testView(0, 2).ms); err != nil {
		t.Fatal(err)
	}
	err := m.WaitSave(context.Background())
	if !errors.IsResource(err) {
		t.Errorf("WaitSave() = %v, want resource error", err)
	}
	if got := m.SaveStatus(); got != SaveFailed {
		t.Errorf("SaveStatus() = %v, want failed", got)
	}

	// a failed save does not block the next one
	if err := m.SaveFull(filepath.Join(t.TempDir(), "ok.csv"), 0, testView(0, 2).ms); err != nil {
		t.Errorf("SaveFull() after failure = %v", err)
	}
	m.WaitSave(context.Background())
}

func TestSaveFullInProgress(t *testing.T) {
	m, _ := newTestManager(t, 4)

	running := &saveTask{done: make(chan struct{})}
	running.status.Store(int32(SaveExecuting))
	m.task = running

	err := m.SaveFull(filepath.Join(t.TempDir(), "x.csv"), 0, nil)
	if !errors.Is(err, errors.ErrSaveInProgress) {
		t.Errorf("SaveFull() = %v, want ErrSaveInProgress", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := m.WaitSave(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitSave() = %v, want deadline exceeded", err)
	}
}

func TestSaveStatusString(t *testing.T) {
	tests := map[SaveStatus]string{
		SaveIdle:       "idle",
		SaveExecuting:  "executing",
		SaveFailed:     "failed",
		SaveSucceeded:  "succeeded",
		SaveTerminated: "terminated",
		SaveStatus(99): "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
