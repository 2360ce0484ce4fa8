// Package synth generates plausible random measurements for demo mode
// and tests.
package synth

import (
	"math/rand/v2"
	"sync"

	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Value ranges of generated measurements.
const (
	MinNominalRate = 4_000_000
	MaxNominalRate = 40_000_000

	MinInputDF  = 0.000050
	MaxInputDF  = 0.006000
	MinOutputDF = 0.000010
	MaxOutputDF = 0.000050

	MaxMediaLossRate = 3
	MaxClockValue    = 10.0
)

// Generator produces random measurements around one nominal rate.
// Generator is safe for concurrent use.
type Generator struct {
	set types.SourceSet

	mu        sync.Mutex
	rng       *rand.Rand
	nominal   uint32
	deviation uint32
}

// New creates a generator for set. Equal seeds produce equal sequences.
func New(set types.SourceSet, seed uint64) *Generator {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	nominal := uintRange(rng, MinNominalRate, MaxNominalRate)
	return &Generator{
		set:       set,
		rng:       rng,
		nominal:   nominal,
		deviation: uintRange(rng, 2, 8) * nominal / 100,
	}
}

// NominalRate returns the rate inputs vary around.
func (g *Generator) NominalRate() uint32 { return g.nominal }

// Next returns a new random measurement.
func (g *Generator) Next() types.Measurement {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := types.Measurement{ActiveInput: 1}
	for _, src := range g.set.Inputs() {
		in := src.Input(&m)
		in.Rate = uintRange(g.rng, g.nominal-g.deviation, g.nominal+g.deviation)
		in.DelayFactor = floatRange(g.rng, MinInputDF, MaxInputDF)
		in.MediaLossRate = uintRange(g.rng, 0, MaxMediaLossRate)
		g.fillClock(&in.Clock)
	}
	for _, src := range g.set.Outputs() {
		out := src.Output(&m)
		out.Rate = g.nominal
		out.DelayFactor = floatRange(g.rng, MinOutputDF, MaxOutputDF)
		g.fillClock(&out.Clock)
	}
	return m
}

// Fill returns n random measurements.
func (g *Generator) Fill(n int) []types.Measurement {
	ms := make([]types.Measurement, n)
	for i := range ms {
		ms[i] = g.Next()
	}
	return ms
}

func (g *Generator) fillClock(c *types.ClockSamples) {
	c.Count = uint8(uintRange(g.rng, 1, types.MaxClockSamples))
	for i := range int(c.Count) {
		c.Values[i] = float32(g.rng.Float64() * MaxClockValue)
	}
}

// uintRange returns a value in [lo, hi].
func uintRange(rng *rand.Rand, lo, hi uint32) uint32 {
	return lo + rng.Uint32N(hi-lo+1)
}

func floatRange(rng *rand.Rand, lo, hi float64) float32 {
	return float32(lo + rng.Float64()*(hi-lo))
}
