package types

// Summary holds statistics of one field over a window of samples.
// This is the output of aggregate.Summarize.
type Summary struct {
	Source Source
	Field  string // "df" or "rate"

	// Window
	StartTime int64 // Unix seconds of the first sample
	Count     int64

	// Basic statistics
	Min float64
	Max float64
	Avg float64

	// Percentiles (nil if the window is empty)
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64
}

// IsEmpty returns true if no samples were summarized.
func (s *Summary) IsEmpty() bool {
	return s.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (s *Summary) HasPercentiles() bool {
	return s.P50 != nil
}

// SetPercentiles sets all percentile values.
func (s *Summary) SetPercentiles(p50, p90, p95, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P95 = &p95
	s.P99 = &p99
}
