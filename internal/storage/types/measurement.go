package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxClockSamples is the fixed capacity of a ClockSamples history.
const MaxClockSamples = 10

// ClockSamples is a short history of reference-clock offsets.
// Only the first Count values are valid; the rest are never read.
type ClockSamples struct {
	Values [MaxClockSamples]float32
	Count  uint8
}

// Valid returns the valid prefix of the history.
func (c *ClockSamples) Valid() []float32 {
	n := int(c.Count)
	if n > MaxClockSamples {
		n = MaxClockSamples
	}
	return c.Values[:n]
}

// Equal compares the valid prefixes only.
func (c ClockSamples) Equal(o ClockSamples) bool {
	if c.Count != o.Count {
		return false
	}
	for i := 0; i < int(c.Count) && i < MaxClockSamples; i++ {
		if c.Values[i] != o.Values[i] {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the valid prefix as little-endian float32 values.
func (c ClockSamples) MarshalBinary() ([]byte, error) {
	valid := c.Valid()
	buf := make([]byte, 4*len(valid))
	for i, v := range valid {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf, nil
}

// UnmarshalBinary decodes count values from a little-endian blob.
func (c *ClockSamples) UnmarshalBinary(data []byte) error {
	if len(data)%4 != 0 {
		return fmt.Errorf("clock blob length %d is not a multiple of 4", len(data))
	}
	n := len(data) / 4
	if n > MaxClockSamples {
		return fmt.Errorf("clock blob holds %d values, max %d", n, MaxClockSamples)
	}
	c.Count = uint8(n)
	for i := 0; i < n; i++ {
		c.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return nil
}

// InputData holds the per-second statistics of one input feed.
type InputData struct {
	DelayFactor   float32 // seconds of buffering needed, >= 0
	MediaLossRate uint32  // lost or out-of-order packets
	Rate          uint32  // bits per second
	Clock         ClockSamples
}

// OutputData holds the per-second statistics of one output feed.
type OutputData struct {
	DelayFactor float32
	Rate        uint32
	Clock       ClockSamples
}

// Measurement is one observation across all logical sources.
// Sources outside the active SourceSet are carried but ignored.
type Measurement struct {
	ActiveInput uint32 // 1 = primary, 2 = secondary

	HP1 InputData
	HP2 InputData
	LP1 InputData
	LP2 InputData

	HPOut OutputData
	LPOut OutputData
}

// Equal compares the fields of every source in set.
func (m *Measurement) Equal(o *Measurement, set SourceSet) bool {
	if m.ActiveInput != o.ActiveInput {
		return false
	}
	for _, s := range set.Sources() {
		if !s.Row(m).Equal(s.Row(o)) {
			return false
		}
	}
	return true
}

// Row is the kind-neutral projection of one source, as stored in its table.
// MediaLossRate is always zero for output sources.
type Row struct {
	DelayFactor   float32
	MediaLossRate uint32
	Rate          uint32
	Clock         ClockSamples
}

// Equal compares two rows, clock history by valid prefix.
func (r Row) Equal(o Row) bool {
	return r.DelayFactor == o.DelayFactor &&
		r.MediaLossRate == o.MediaLossRate &&
		r.Rate == o.Rate &&
		r.Clock.Equal(o.Clock)
}
