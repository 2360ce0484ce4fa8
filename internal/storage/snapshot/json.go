package snapshot

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// field is one array of a snapshot. Exactly one of u32 and f32 is set.
type field struct {
	name string
	u32  func(*types.Measurement) uint32
	f32  func(*types.Measurement) float32
}

// buildFields lists the snapshot arrays for set: integer arrays first
// (active input, then rate and media loss rate per input layer, then
// output rates), followed by the delay factor arrays.
func buildFields(set types.SourceSet) []field {
	var hp, lp []types.Source
	for _, src := range set.Inputs() {
		if src.IsLayer() {
			lp = append(lp, src)
		} else {
			hp = append(hp, src)
		}
	}
	inputs := append(append([]types.Source(nil), hp...), lp...)

	fields := []field{{
		name: "active",
		u32:  func(m *types.Measurement) uint32 { return m.ActiveInput },
	}}

	for _, group := range [][]types.Source{hp, lp} {
		for _, src := range group {
			fields = append(fields, field{
				name: src.Key() + "Rate",
				u32:  func(m *types.Measurement) uint32 { return src.Input(m).Rate },
			})
		}
		for _, src := range group {
			fields = append(fields, field{
				name: src.Key() + "MLR",
				u32:  func(m *types.Measurement) uint32 { return src.Input(m).MediaLossRate },
			})
		}
	}
	for _, src := range set.Outputs() {
		fields = append(fields, field{
			name: src.Key() + "Rate",
			u32:  func(m *types.Measurement) uint32 { return src.Output(m).Rate },
		})
	}

	for _, src := range inputs {
		fields = append(fields, field{
			name: src.Key() + "DF",
			f32:  func(m *types.Measurement) float32 { return src.Input(m).DelayFactor },
		})
	}
	for _, src := range set.Outputs() {
		fields = append(fields, field{
			name: src.Key() + "DF",
			f32:  func(m *types.Measurement) float32 { return src.Output(m).DelayFactor },
		})
	}
	return fields
}

// encode appends the snapshot object of ms to dst. Integers are written
// in decimal, delay factors with six decimals.
func encode(dst []byte, fields []field, start int64, expire int, ms []types.Measurement) []byte {
	dst = fmt.Appendf(dst, `{ "entryCount": %d, "startTime": %d, "expireTime": %d`, len(ms), start, expire)
	for _, f := range fields {
		dst = append(dst, `, "`...)
		dst = append(dst, f.name...)
		dst = append(dst, `": [`...)
		for i := range ms {
			if i > 0 {
				dst = append(dst, ',')
			}
			if f.u32 != nil {
				dst = strconv.AppendUint(dst, uint64(f.u32(&ms[i])), 10)
			} else {
				dst = strconv.AppendFloat(dst, float64(f.f32(&ms[i])), 'f', 6, 64)
			}
		}
		dst = append(dst, ']')
	}
	return append(dst, " }"...)
}

// writeSnapshot writes data to name and, when compress is set, a gzip
// copy to name.gz. A failed write leaves earlier files in place.
func writeSnapshot(name string, data []byte, compress bool) error {
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return errors.NewFileCreate(name, err)
	}
	if !compress {
		return nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := os.WriteFile(name+".gz", buf.Bytes(), 0o644); err != nil {
		return errors.NewFileCreate(name+".gz", err)
	}
	return nil
}

// removeFiles deletes a snapshot and its compressed copy. Missing files
// are not an error.
func removeFiles(name string) error {
	var errs []error
	for _, n := range []string{name, name + ".gz"} {
		if err := os.Remove(n); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
