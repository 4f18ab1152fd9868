package volume

import (
	"fmt"
	"math"
)

// DefaultTolerance is the distance in millimetres under which two slice
// positions are considered the same location.
const DefaultTolerance = 5.0

// AlignLayers keeps, for each modality, the slices whose position lies
// within tolerance of some position in every modality's list, its own
// included. The comparison is strict.
func AlignLayers(set Set, tolerance float64) (Set, error) {
	lists := [3][]float64{set.T2W.Positions, set.ADC.Positions, set.DWI.Positions}
	names := [3]string{"T2W", "ADC", "DWI"}

	var out [3]*Volume
	for i, v := range set.Volumes() {
		var keep []int
		for s, pos := range v.Positions {
			if closeToAll(pos, lists, tolerance) {
				keep = append(keep, s)
			}
		}
		if len(keep) == 0 {
			return Set{}, fmt.Errorf("%w: %s", ErrEmptyAlignment, names[i])
		}
		out[i] = v.selectSlices(keep)
	}
	return Set{T2W: out[0], ADC: out[1], DWI: out[2]}, nil
}

func closeToAll(pos float64, lists [3][]float64, tolerance float64) bool {
	for _, list := range lists {
		nearest := math.Inf(1)
		for _, q := range list {
			nearest = math.Min(nearest, math.Abs(pos-q))
		}
		if !(nearest < tolerance) {
			return false
		}
	}
	return true
}

// selectSlices returns a new volume made of the given slices in order.
func (v *Volume) selectSlices(indices []int) *Volume {
	out := New(v.Rows, v.Cols, len(indices), v.Spacing)
	for i, s := range indices {
		copy(out.Slice(i), v.Slice(s))
		out.Positions[i] = v.Positions[s]
	}
	return out
}
