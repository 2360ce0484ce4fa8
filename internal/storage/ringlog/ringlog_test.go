package ringlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/qoslog/internal/clock"
	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/aggregate"
	"github.com/xtxerr/qoslog/internal/storage/snapshot"
	"github.com/xtxerr/qoslog/internal/storage/synth"
	"github.com/xtxerr/qoslog/internal/storage/types"
	qtest "github.com/xtxerr/qoslog/internal/testing"
)

var t0 = time.Unix(1_700_000_000, 0)

func sample(rate uint32) types.Measurement {
	var m types.Measurement
	m.ActiveInput = 1
	m.HP1.Rate = rate
	m.HP1.DelayFactor = float32(rate) / 1000
	return m
}

func newTestLog(t *testing.T, capacity int, withSnapshots bool) (*Log, *clock.Manual, string) {
	t.Helper()
	clk := clock.NewManual(t0)
	dir := t.TempDir()

	opts := Options{
		Capacity: capacity,
		Sources:  types.NewSourceSet(false),
		Clock:    clk,
	}
	if withSnapshots {
		sopts := snapshot.DefaultOptions()
		sopts.Dir = dir
		sopts.RealTimeFile = filepath.Join(dir, "realtime.json")
		sopts.RealTimeSamples = 5
		mgr, err := snapshot.New(sopts)
		if err != nil {
			t.Fatalf("snapshot.New() error = %v", err)
		}
		opts.Snapshots = mgr
	}

	l, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, clk, dir
}

func TestAppendGaps(t *testing.T) {
	l, clk, _ := newTestLog(t, 100, false)

	if got := l.Append(sample(1)); got != 1 {
		t.Fatalf("first Append() = %d, want 1", got)
	}
	if l.StartTime() != t0.Unix() {
		t.Errorf("StartTime() = %d, want %d", l.StartTime(), t0.Unix())
	}

	// elapsed minus stored samples
	tests := []struct {
		name    string
		at      time.Duration
		want    int
		wantLen int
	}{
		{"gap 0.3s is a duplicate", 1300 * time.Millisecond, 0, 1},
		{"gap 0.7s adds one", 1700 * time.Millisecond, 1, 2},
		{"gap 1.5s adds two", 3500 * time.Millisecond, 2, 4},
		{"gap 0.5s exactly is a duplicate", 4500 * time.Millisecond, 0, 4},
		{"gap 1.0s exactly adds one", 5 * time.Second, 1, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk.Set(t0.Add(tt.at))
			if got := l.Append(sample(2)); got != tt.want {
				t.Errorf("Append() = %d, want %d", got, tt.want)
			}
			if l.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", l.Len(), tt.wantLen)
			}
		})
	}

	stats := l.Stats()
	if stats.Appended != 5 || stats.GapFills != 1 || stats.Dropped != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAppendOverflowAdvancesStart(t *testing.T) {
	l, clk, _ := newTestLog(t, 3, false)

	l.Append(sample(0))
	for i := 1; i <= 5; i++ {
		clk.Set(t0.Add(time.Duration(i)*time.Second + 700*time.Millisecond))
		l.Append(sample(uint32(i)))
	}

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	if want := t0.Unix() + 3; l.StartTime() != want {
		t.Errorf("StartTime() = %d, want %d", l.StartTime(), want)
	}
	for i, want := range []uint32{3, 4, 5} {
		m, ok := l.At(i)
		if !ok || m.HP1.Rate != want {
			t.Errorf("At(%d) rate = %d, want %d", i, m.HP1.Rate, want)
		}
	}
}

func TestClear(t *testing.T) {
	l, clk, dir := newTestLog(t, 10, true)
	l.Append(sample(1))
	clk.Advance(1700 * time.Millisecond)
	l.Append(sample(2))

	l.Clear()
	if l.Len() != 0 || l.StartTime() != 0 {
		t.Errorf("after Clear: Len=%d StartTime=%d", l.Len(), l.StartTime())
	}

	data, err := os.ReadFile(filepath.Join(dir, "realtime.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `{ "entryCount": 0, "startTime": 0, "expireTime": -1,`) {
		t.Errorf("realtime snapshot after clear = %s", data)
	}

	// next append starts over
	if got := l.Append(sample(3)); got != 1 {
		t.Errorf("Append() after Clear = %d, want 1", got)
	}
	if l.StartTime() != clk.Now().Unix() {
		t.Errorf("StartTime() = %d, want %d", l.StartTime(), clk.Now().Unix())
	}
}

func TestRandomFill(t *testing.T) {
	l, _, _ := newTestLog(t, 100, false)
	l.Append(sample(1))

	l.RandomFill(60, synth.New(types.NewSourceSet(false), 3))
	if l.Len() != 60 {
		t.Fatalf("Len() = %d, want 60", l.Len())
	}
	if want := t0.Unix() - 60; l.StartTime() != want {
		t.Errorf("StartTime() = %d, want %d", l.StartTime(), want)
	}

	l.RandomFill(500, synth.New(types.NewSourceSet(false), 3))
	if l.Len() != 100 {
		t.Errorf("Len() = %d, want capacity 100", l.Len())
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	l, clk, _ := newTestLog(t, 5, false)

	l.Append(sample(0))
	for i := 1; i < 8; i++ {
		clk.Set(t0.Add(time.Duration(i)*time.Second + 700*time.Millisecond))
		l.Append(sample(uint32(i)))
	}

	st := l.Stats()
	if st.Len != 5 || st.Evicted != 3 {
		t.Errorf("Len = %d, Evicted = %d, want 5 and 3", st.Len, st.Evicted)
	}
	if want := t0.Unix() + 3; st.StartTime != want {
		t.Errorf("StartTime = %d, want %d", st.StartTime, want)
	}
}

func TestRandomFillEmptyThenAppend(t *testing.T) {
	l, clk, _ := newTestLog(t, 100, false)
	l.Append(sample(1))

	l.RandomFill(0, synth.New(types.NewSourceSet(false), 3))
	if l.Len() != 0 || l.StartTime() != 0 {
		t.Fatalf("after empty fill: Len() = %d, StartTime() = %d, want 0, 0", l.Len(), l.StartTime())
	}

	clk.Advance(time.Second)
	if added := l.Append(sample(2)); added != 1 {
		t.Fatalf("Append() = %d, want 1", added)
	}
	if want := t0.Unix() + 1; l.StartTime() != want {
		t.Errorf("StartTime() = %d, want %d", l.StartTime(), want)
	}
	if m, _ := l.At(0); m.HP1.Rate != 2 {
		t.Errorf("At(0).HP1.Rate = %d, want 2", m.HP1.Rate)
	}
}

func TestAppendRegeneratesSnapshots(t *testing.T) {
	l, clk, dir := newTestLog(t, 100, true)

	l.Append(sample(10))
	for i := 1; i <= 7; i++ {
		clk.Set(t0.Add(time.Duration(i)*time.Second + 700*time.Millisecond))
		l.Append(sample(uint32(10 + i)))
	}

	data, err := os.ReadFile(filepath.Join(dir, "realtime.json"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{ "entryCount": 5, "startTime": 1700000003, "expireTime": -1, "active": [1,1,1,1,1], "hp1Rate": [13,14,15,16,17]`
	if !strings.HasPrefix(string(data), want) {
		t.Errorf("realtime snapshot = %s", data)
	}
}

func TestWindowLifecycle(t *testing.T) {
	l, clk, dir := newTestLog(t, 100, true)
	l.Append(sample(10))

	start := t0.Unix()
	if err := l.RequestWindow(start, "w.json"); err != nil {
		t.Fatalf("RequestWindow() error = %v", err)
	}
	path := filepath.Join(dir, "w.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("window snapshot not written: %v", err)
	}
	if err := l.RequestWindow(start+5, "w.json"); !errors.Is(err, errors.ErrFileInUse) {
		t.Errorf("RequestWindow() on a used file = %v, want ErrFileInUse", err)
	}

	// 29 samples age the window to one remaining
	for i := 1; i <= 29; i++ {
		clk.Set(t0.Add(time.Duration(i)*time.Second + 700*time.Millisecond))
		l.Append(sample(10))
	}
	if err := l.KeepAlive(start); err != nil {
		t.Fatalf("KeepAlive() error = %v", err)
	}

	for i := 30; i <= 59; i++ {
		clk.Set(t0.Add(time.Duration(i)*time.Second + 700*time.Millisecond))
		l.Append(sample(10))
	}
	if err := l.KeepAlive(start); !errors.Is(err, errors.ErrWindowNotFound) {
		t.Errorf("KeepAlive() after expiry = %v, want ErrWindowNotFound", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expired window file should be removed")
	}
	if err := l.ReleaseWindow(start); !errors.IsNotFound(err) {
		t.Errorf("ReleaseWindow() = %v, want not found", err)
	}
}

func TestSummary(t *testing.T) {
	l, clk, _ := newTestLog(t, 100, false)
	l.Append(sample(1))
	for i := 1; i < 10; i++ {
		clk.Set(t0.Add(time.Duration(i)*time.Second + 700*time.Millisecond))
		l.Append(sample(uint32(i + 1)))
	}

	s, err := l.Summary(types.SourceHP1, aggregate.FieldRate, 4)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.Count != 4 || s.Min != 7 || s.Max != 10 || s.StartTime != t0.Unix()+6 {
		t.Errorf("Summary() = %+v", s)
	}

	all, _ := l.Summary(types.SourceHP1, aggregate.FieldRate, 0)
	if all.Count != 10 {
		t.Errorf("Summary(0).Count = %d, want 10", all.Count)
	}

	if _, err := l.Summary(types.SourceLP1, aggregate.FieldRate, 0); !errors.IsValidation(err) {
		t.Errorf("Summary(lp1) = %v, want validation error", err)
	}
	if _, err := l.Summary(types.SourceHPOut, aggregate.FieldMediaLossRate, 0); !errors.IsValidation(err) {
		t.Errorf("Summary(out, mlr) = %v, want validation error", err)
	}
}

func TestSaveFull(t *testing.T) {
	l, _, dir := newTestLog(t, 100, true)
	l.RandomFill(20, synth.New(types.NewSourceSet(false), 9))

	path := filepath.Join(dir, "save.csv")
	if err := l.SaveFull(path); err != nil {
		t.Fatalf("SaveFull() error = %v", err)
	}
	if err := l.WaitSave(context.Background()); err != nil {
		t.Fatalf("WaitSave() error = %v", err)
	}
	if l.SaveStatus() != snapshot.SaveSucceeded {
		t.Errorf("SaveStatus() = %v", l.SaveStatus())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 21 {
		t.Errorf("got %d lines, want 21", lines)
	}
}

func TestWithoutSnapshots(t *testing.T) {
	l, _, _ := newTestLog(t, 10, false)

	if err := l.SaveFull("x.csv"); !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("SaveFull() = %v, want ErrNotRunning", err)
	}
	if l.SaveStatus() != snapshot.SaveTerminated {
		t.Errorf("SaveStatus() = %v, want terminated", l.SaveStatus())
	}
	if err := l.RequestWindow(0, "w.json"); err == nil {
		t.Error("RequestWindow() should fail without a snapshot manager")
	}
}

func TestNewRejectsEmptySources(t *testing.T) {
	if _, err := New(Options{Capacity: 10}); err == nil {
		t.Error("New() with no sources should fail")
	}
}

func TestRequestWindowRejectsBadNames(t *testing.T) {
	l, _, _ := newTestLog(t, 10, true)
	l.Append(sample(1))

	for _, name := range []string{"../w.json", "sub/w.json", "w.json.gz", ""} {
		if err := l.RequestWindow(t0.Unix(), name); !errors.IsValidation(err) {
			t.Errorf("RequestWindow(%q) = %v, want validation error", name, err)
		}
	}
}

func TestConcurrentReaders(t *testing.T) {
	l, clk, _ := newTestLog(t, 50, true)
	gt := qtest.NewGoroutineTest(t)

	gt.Go(func() error {
		defer gt.Cancel()
		for i := 0; i < 200; i++ {
			clk.Advance(time.Second)
			l.Append(sample(uint32(i)))
		}
		return nil
	})
	for r := 0; r < 4; r++ {
		gt.GoWithContext(func(ctx context.Context) error {
			for ctx.Err() == nil {
				start, data := l.Clone()
				if len(data) > 50 {
					return fmt.Errorf("clone holds %d samples, capacity 50", len(data))
				}
				if len(data) > 0 && start == 0 {
					return fmt.Errorf("clone of %d samples without start time", len(data))
				}
				if _, err := l.Summary(types.SourceHP1, aggregate.FieldRate, 10); err != nil {
					return err
				}
			}
			return nil
		})
	}
	gt.Wait()

	if l.Len() != 50 {
		t.Errorf("Len() = %d, want 50", l.Len())
	}
}
