package aggregate

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/qoslog/internal/storage/types"
)

func measurement(df float32, rate, mlr uint32) types.Measurement {
	var m types.Measurement
	m.ActiveInput = 1
	m.HP1 = types.InputData{DelayFactor: df, Rate: rate, MediaLossRate: mlr}
	m.HP2 = types.InputData{DelayFactor: df * 2, Rate: rate * 2}
	m.HPOut = types.OutputData{DelayFactor: df / 2, Rate: rate}
	return m
}

func TestStreamingAggregate_Basic(t *testing.T) {
	agg := New(types.SourceHP1, FieldRate, 100, 0)

	if agg.Count() != 0 {
		t.Error("new aggregate should be empty")
	}
	for _, v := range []float64{10, 20, 30} {
		agg.Add(v)
	}

	result := agg.Result()
	if result.Count != 3 {
		t.Errorf("expected count=3, got %d", result.Count)
	}
	if result.Min != 10.0 {
		t.Errorf("expected min=10, got %f", result.Min)
	}
	if result.Max != 30.0 {
		t.Errorf("expected max=30, got %f", result.Max)
	}
	if math.Abs(result.Avg-20.0) > 0.001 {
		t.Errorf("expected avg=20, got %f", result.Avg)
	}
	if result.StartTime != 100 || result.Source != types.SourceHP1 || result.Field != "rate" {
		t.Errorf("unexpected identity %+v", result)
	}
	if result.HasPercentiles() {
		t.Error("should not have percentiles")
	}
}

func TestStreamingAggregate_WithPercentiles(t *testing.T) {
	agg := New(types.SourceHP1, FieldDelayFactor, 0, DefaultAccuracy)
	for i := 1; i <= 100; i++ {
		agg.Add(float64(i))
	}

	result := agg.Result()
	if !result.HasPercentiles() {
		t.Fatal("should have percentiles")
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"p50", *result.P50, 50},
		{"p90", *result.P90, 90},
		{"p95", *result.P95, 95},
		{"p99", *result.P99, 99},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want)/tt.want > 0.03 {
			t.Errorf("%s = %f, want ~%f", tt.name, tt.got, tt.want)
		}
	}
}

func TestStreamingAggregate_Empty(t *testing.T) {
	result := New(types.SourceHP1, FieldDelayFactor, 0, DefaultAccuracy).Result()
	if !result.IsEmpty() {
		t.Error("result should be empty")
	}
	if result.HasPercentiles() {
		t.Error("empty result should not have percentiles")
	}
	if result.Min != 0 || result.Max != 0 {
		t.Errorf("empty result min/max = %f/%f, want 0/0", result.Min, result.Max)
	}
}

func TestStreamingAggregate_Reset(t *testing.T) {
	agg := New(types.SourceHP1, FieldRate, 0, DefaultAccuracy)
	agg.Add(5)
	agg.Add(7)
	agg.Reset(60)

	agg.Add(100)
	result := agg.Result()
	if result.Count != 1 || result.Min != 100 || result.StartTime != 60 {
		t.Errorf("after reset got %+v", result)
	}
}

func TestStreamingAggregate_Concurrent(t *testing.T) {
	agg := New(types.SourceHP1, FieldRate, 0, DefaultAccuracy)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				agg.Add(float64(i))
			}
		}()
	}
	wg.Wait()

	if agg.Count() != 800 {
		t.Errorf("expected count=800, got %d", agg.Count())
	}
}

func TestFieldValue(t *testing.T) {
	m := measurement(0.25, 1000, 3)

	tests := []struct {
		field  Field
		source types.Source
		want   float64
		ok     bool
	}{
		{FieldDelayFactor, types.SourceHP1, 0.25, true},
		{FieldRate, types.SourceHP2, 2000, true},
		{FieldMediaLossRate, types.SourceHP1, 3, true},
		{FieldDelayFactor, types.SourceHPOut, 0.125, true},
		{FieldMediaLossRate, types.SourceHPOut, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.field.Value(tt.source, &m)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s/%s = %f,%v want %f,%v", tt.source, tt.field, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseField(t *testing.T) {
	for _, s := range []string{"df", "rate", "mlr"} {
		if _, err := ParseField(s); err != nil {
			t.Errorf("ParseField(%q) error = %v", s, err)
		}
	}
	if _, err := ParseField("jitter"); err == nil {
		t.Error("ParseField(jitter) should fail")
	}
}

func TestSummarize(t *testing.T) {
	ms := []types.Measurement{
		measurement(0.001, 10, 0),
		measurement(0.003, 20, 1),
		measurement(0.002, 30, 2),
	}

	s := Summarize(types.SourceHP1, FieldDelayFactor, 500, ms)
	if s.Count != 3 || s.StartTime != 500 {
		t.Fatalf("got %+v", s)
	}
	if math.Abs(s.Max-0.003) > 1e-6 || math.Abs(s.Min-0.001) > 1e-6 {
		t.Errorf("min/max = %f/%f", s.Min, s.Max)
	}
	if !s.HasPercentiles() {
		t.Error("Summarize should compute percentiles")
	}

	empty := Summarize(types.SourceHP1, FieldRate, 0, nil)
	if !empty.IsEmpty() {
		t.Error("summary of no samples should be empty")
	}
}

func TestManager_BucketTransition(t *testing.T) {
	mgr := NewManager(types.NewSourceSet(false), time.Minute, DefaultAccuracy)

	// bucket [60, 120)
	for ts := int64(60); ts < 120; ts++ {
		m := measurement(0.001, uint32(ts), 0)
		mgr.Process(ts, &m)
	}
	if got := mgr.FlushCompleted(); got != nil {
		t.Fatalf("expected no completed summaries, got %d", len(got))
	}

	// first sample of the next bucket completes the previous one
	m := measurement(0.001, 1, 0)
	mgr.Process(120, &m)

	completed := mgr.FlushCompleted()
	// hp1 and hp2: df, rate, mlr; out: df, rate
	if len(completed) != 8 {
		t.Fatalf("expected 8 summaries, got %d", len(completed))
	}
	for _, s := range completed {
		if s.StartTime != 60 || s.Count != 60 {
			t.Errorf("%s/%s: start=%d count=%d", s.Source, s.Field, s.StartTime, s.Count)
		}
		if s.Source == types.SourceHP1 && s.Field == "rate" && (s.Min != 60 || s.Max != 119) {
			t.Errorf("hp1 rate min/max = %f/%f", s.Min, s.Max)
		}
	}

	cur := mgr.Current()
	if len(cur) != 8 || cur[0].Count != 1 || cur[0].StartTime != 120 {
		t.Errorf("current bucket = %+v", cur)
	}

	stats := mgr.Stats()
	if stats.SamplesProcessed != 61 || stats.BucketsCompleted != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestManager_FlushAll(t *testing.T) {
	mgr := NewManager(types.NewSourceSet(true), 10*time.Second, 0)

	ms := make([]types.Measurement, 25)
	for i := range ms {
		ms[i] = measurement(0.001, 100, 0)
	}
	mgr.ProcessBatch(1000, ms)

	all := mgr.FlushAll()
	// 3 buckets x (4 inputs x 3 fields + 2 outputs x 2 fields)
	if len(all) != 3*16 {
		t.Fatalf("expected %d summaries, got %d", 3*16, len(all))
	}
	if all[0].StartTime != 1000 || all[len(all)-1].StartTime != 1020 {
		t.Errorf("unexpected ordering: first=%d last=%d", all[0].StartTime, all[len(all)-1].StartTime)
	}
	if all[len(all)-1].Count != 5 {
		t.Errorf("last bucket count = %d, want 5", all[len(all)-1].Count)
	}
	if mgr.Current() != nil {
		t.Error("FlushAll should reset the active bucket")
	}
	if mgr.BucketSize() != 10*time.Second {
		t.Errorf("BucketSize() = %v", mgr.BucketSize())
	}
}
