package types

import (
	"fmt"

	"github.com/xtxerr/qoslog/internal/errors"
)

// Source identifies one logical feed. Each source maps to exactly one
// table and one field of Measurement.
type Source int

const (
	// SourceHP1 is the primary input (high-priority layer).
	SourceHP1 Source = iota
	// SourceLP1 is the low-priority layer of the primary input.
	SourceLP1
	// SourceHP2 is the secondary input (high-priority layer).
	SourceHP2
	// SourceLP2 is the low-priority layer of the secondary input.
	SourceLP2
	// SourceHPOut is the selected output.
	SourceHPOut
	// SourceLPOut is the low-priority layer of the selected output.
	SourceLPOut

	numSources
)

// Kind tells input sources (with media loss rate) from output sources.
type Kind int

const (
	KindInput Kind = iota
	KindOutput
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	if k == KindOutput {
		return "output"
	}
	return "input"
}

var sourceNames = [numSources]string{"hp1", "lp1", "hp2", "lp2", "hp_out", "lp_out"}

// String returns the source name, which is also its table name.
func (s Source) String() string {
	if s < 0 || s >= numSources {
		return fmt.Sprintf("unknown(%d)", int(s))
	}
	return sourceNames[s]
}

// Table returns the name of the table holding this source's rows.
func (s Source) Table() string {
	return s.String()
}

// Kind returns whether the source is an input or an output.
func (s Source) Kind() Kind {
	if s == SourceHPOut || s == SourceLPOut {
		return KindOutput
	}
	return KindInput
}

// IsLayer returns true for the low-priority layer sources.
func (s Source) IsLayer() bool {
	return s == SourceLP1 || s == SourceLP2 || s == SourceLPOut
}

// Input returns the input field of m selected by s.
// Panics when s is an output source.
func (s Source) Input(m *Measurement) *InputData {
	switch s {
	case SourceHP1:
		return &m.HP1
	case SourceHP2:
		return &m.HP2
	case SourceLP1:
		return &m.LP1
	case SourceLP2:
		return &m.LP2
	}
	panic(fmt.Sprintf("types: %s is not an input source", s))
}

// Output returns the output field of m selected by s.
// Panics when s is an input source.
func (s Source) Output(m *Measurement) *OutputData {
	switch s {
	case SourceHPOut:
		return &m.HPOut
	case SourceLPOut:
		return &m.LPOut
	}
	panic(fmt.Sprintf("types: %s is not an output source", s))
}

// Row projects the fields of s out of m.
func (s Source) Row(m *Measurement) Row {
	if s.Kind() == KindOutput {
		o := s.Output(m)
		return Row{DelayFactor: o.DelayFactor, Rate: o.Rate, Clock: o.Clock}
	}
	in := s.Input(m)
	return Row{
		DelayFactor:   in.DelayFactor,
		MediaLossRate: in.MediaLossRate,
		Rate:          in.Rate,
		Clock:         in.Clock,
	}
}

// SetRow stores r into the fields of s in m. MediaLossRate is dropped
// for output sources.
func (s Source) SetRow(m *Measurement, r Row) {
	if s.Kind() == KindOutput {
		*s.Output(m) = OutputData{DelayFactor: r.DelayFactor, Rate: r.Rate, Clock: r.Clock}
		return
	}
	*s.Input(m) = InputData{
		DelayFactor:   r.DelayFactor,
		MediaLossRate: r.MediaLossRate,
		Rate:          r.Rate,
		Clock:         r.Clock,
	}
}

// Key returns the prefix of the source's snapshot field names.
func (s Source) Key() string {
	switch s {
	case SourceHPOut:
		return "out"
	case SourceLPOut:
		return "lpOut"
	}
	return s.String()
}

// Labels returns the CSV column labels of s: rate, delay factor and,
// for inputs, media loss rate. Layer mode prefixes HP/LP.
func (s Source) Labels(layer bool) []string {
	switch s {
	case SourceHPOut:
		if layer {
			return []string{"HP Out Rate", "HP Out DF"}
		}
		return []string{"Out Rate", "Out DF"}
	case SourceLPOut:
		return []string{"LP Out Rate", "LP Out DF"}
	}

	n := 1
	if s == SourceHP2 || s == SourceLP2 {
		n = 2
	}
	prefix := ""
	if layer {
		prefix = "HP "
		if s.IsLayer() {
			prefix = "LP "
		}
	}
	return []string{
		fmt.Sprintf("%sRate %d", prefix, n),
		fmt.Sprintf("%sDF %d", prefix, n),
		fmt.Sprintf("%sMLR %d", prefix, n),
	}
}

// ParseSource parses a source name.
func ParseSource(name string) (Source, error) {
	for i, n := range sourceNames {
		if n == name {
			return Source(i), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, errors.ErrInvalidSource)
}

// AllSources returns every known source in canonical order.
func AllSources() []Source {
	return []Source{SourceHP1, SourceLP1, SourceHP2, SourceLP2, SourceHPOut, SourceLPOut}
}

// =============================================================================
// SourceSet
// =============================================================================

// SourceSet is the set of sources active in one deployment. The base set
// is HP1, HP2 and HPOut; layer mode adds LP1, LP2 and LPOut. Iteration is
// always in canonical order: inputs first, then outputs.
type SourceSet struct {
	layer   bool
	sources []Source
}

// NewSourceSet returns the base set, extended with the layer sources
// when layer is true.
func NewSourceSet(layer bool) SourceSet {
	set := SourceSet{layer: layer}
	for _, s := range AllSources() {
		if s.IsLayer() && !layer {
			continue
		}
		set.sources = append(set.sources, s)
	}
	return set
}

// Layer reports whether layer sources are active.
func (s SourceSet) Layer() bool { return s.layer }

// Sources returns the active sources in canonical order.
func (s SourceSet) Sources() []Source { return s.sources }

// Len returns the number of active sources.
func (s SourceSet) Len() int { return len(s.sources) }

// Inputs returns the active input sources.
func (s SourceSet) Inputs() []Source { return s.filter(KindInput) }

// Outputs returns the active output sources.
func (s SourceSet) Outputs() []Source { return s.filter(KindOutput) }

func (s SourceSet) filter(k Kind) []Source {
	var out []Source
	for _, src := range s.sources {
		if src.Kind() == k {
			out = append(out, src)
		}
	}
	return out
}

// Contains reports whether src is active.
func (s SourceSet) Contains(src Source) bool {
	for _, x := range s.sources {
		if x == src {
			return true
		}
	}
	return false
}

// Validate checks that the set holds both inputs and an output.
// The zero SourceSet is invalid.
func (s SourceSet) Validate() error {
	for _, required := range []Source{SourceHP1, SourceHP2, SourceHPOut} {
		if !s.Contains(required) {
			return fmt.Errorf("source set lacks %s: %w", required, errors.ErrInvalidSource)
		}
	}
	if s.layer {
		for _, required := range []Source{SourceLP1, SourceLP2, SourceLPOut} {
			if !s.Contains(required) {
				return fmt.Errorf("layer source set lacks %s: %w", required, errors.ErrInvalidSource)
			}
		}
	}
	return nil
}
