// Package aggregate computes window statistics of measurement fields,
// with percentiles estimated by DDSketch.
package aggregate

import (
	"fmt"
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/qoslog/internal/storage/types"
)

// DefaultAccuracy is the relative accuracy of percentile estimates.
const DefaultAccuracy = 0.01

// Field selects the measurement value that is summarized.
type Field string

const (
	FieldDelayFactor   Field = "df"
	FieldRate          Field = "rate"
	FieldMediaLossRate Field = "mlr"
)

// ParseField parses a field name.
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldDelayFactor, FieldRate, FieldMediaLossRate:
		return f, nil
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// Value extracts the field of src from m. Media loss rate is only
// defined for inputs; ok is false otherwise.
func (f Field) Value(src types.Source, m *types.Measurement) (v float64, ok bool) {
	r := src.Row(m)
	switch f {
	case FieldDelayFactor:
		return float64(r.DelayFactor), true
	case FieldRate:
		return float64(r.Rate), true
	case FieldMediaLossRate:
		if src.Kind() != types.KindInput {
			return 0, false
		}
		return float64(r.MediaLossRate), true
	}
	return 0, false
}

// StreamingAggregate maintains running statistics of one field of one source.
type StreamingAggregate struct {
	mu sync.Mutex

	source    types.Source
	field     Field
	startTime int64

	count int64
	sum   float64
	min   float64
	max   float64

	sketch *ddsketch.DDSketch
}

// New creates an empty aggregate whose window starts at startTime.
// A zero accuracy disables percentiles.
func New(source types.Source, field Field, startTime int64, accuracy float64) *StreamingAggregate {
	a := &StreamingAggregate{
		source:    source,
		field:     field,
		startTime: startTime,
		min:       math.MaxFloat64,
		max:       -math.MaxFloat64,
	}
	if accuracy > 0 {
		if sketch, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
			a.sketch = sketch
		}
	}
	return a
}

// Add adds a value to the aggregate.
func (a *StreamingAggregate) Add(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value
	a.min = min(a.min, value)
	a.max = max(a.max, value)

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// AddMeasurement adds the aggregate's field of m.
func (a *StreamingAggregate) AddMeasurement(m *types.Measurement) {
	if v, ok := a.field.Value(a.source, m); ok {
		a.Add(v)
	}
}

// Count returns the number of values added.
func (a *StreamingAggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Result returns the summary of all values added so far.
func (a *StreamingAggregate) Result() types.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := types.Summary{
		Source:    a.source,
		Field:     string(a.field),
		StartTime: a.startTime,
		Count:     a.count,
	}
	if a.count == 0 {
		return s
	}
	s.Min = a.min
	s.Max = a.max
	s.Avg = a.sum / float64(a.count)

	if a.sketch != nil {
		qs, err := a.sketch.GetValuesAtQuantiles([]float64{0.50, 0.90, 0.95, 0.99})
		if err == nil {
			s.SetPercentiles(qs[0], qs[1], qs[2], qs[3])
		}
	}
	return s
}

// Reset empties the aggregate for a window starting at startTime.
func (a *StreamingAggregate) Reset(startTime int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.startTime = startTime
	a.count = 0
	a.sum = 0
	a.min = math.MaxFloat64
	a.max = -math.MaxFloat64
	if a.sketch != nil {
		a.sketch.Clear()
	}
}

// Summarize returns the summary of field over ms, the first sample taken
// at startTime.
func Summarize(source types.Source, field Field, startTime int64, ms []types.Measurement) types.Summary {
	a := New(source, field, startTime, DefaultAccuracy)
	for i := range ms {
		a.AddMeasurement(&ms[i])
	}
	return a.Result()
}
