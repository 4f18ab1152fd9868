package volume

import (
	"fmt"
	"math"
)

// Extent returns the physical height and width of a slice in millimetres.
func (v *Volume) Extent() (height, width float64) {
	return float64(v.Rows) * v.Spacing.Row, float64(v.Cols) * v.Spacing.Col
}

// CropToCommonExtent crops the slices of all three modalities to the
// smallest physical height and width among them. Each modality keeps its
// own pixel spacing, so the resulting pixel shapes differ.
//
// Slices are paired from the T2W stack: the other modalities contribute
// their last n slices, n being the T2W slice count, and pairing stops at the
// shortest stack.
func CropToCommonExtent(set Set) (Set, error) {
	volumes := set.Volumes()
	for _, v := range volumes {
		if v == nil || v.Slices == 0 {
			return Set{}, fmt.Errorf("%w: cannot crop an empty stack", ErrEmptyAlignment)
		}
	}

	n := set.T2W.Slices
	starts := [3]int{0, max(0, set.ADC.Slices-n), max(0, set.DWI.Slices-n)}
	count := n
	for i, v := range volumes {
		count = min(count, v.Slices-starts[i])
	}

	minHeight, minWidth := math.Inf(1), math.Inf(1)
	for _, v := range volumes {
		h, w := v.Extent()
		minHeight = math.Min(minHeight, h)
		minWidth = math.Min(minWidth, w)
	}

	var out [3]*Volume
	for i, v := range volumes {
		rows := min(int(minHeight/v.Spacing.Row), v.Rows)
		cols := min(int(minWidth/v.Spacing.Col), v.Cols)
		indices := make([]int, count)
		for k := range indices {
			indices[k] = starts[i] + k
		}
		out[i] = v.selectSlices(indices).CenterCrop(rows, cols)
	}
	return Set{T2W: out[0], ADC: out[1], DWI: out[2]}, nil
}

// CenterCrop returns a new volume whose slices are center-cropped to at most
// rows x cols. Dimensions already within bounds are left unchanged.
func (v *Volume) CenterCrop(rows, cols int) *Volume {
	rows, cols = min(rows, v.Rows), min(cols, v.Cols)
	out := New(rows, cols, v.Slices, v.Spacing)
	copy(out.Positions, v.Positions)
	for s := 0; s < v.Slices; s++ {
		copy(out.Slice(s), CenterCrop2D(v.Slice(s), v.Rows, v.Cols, rows, cols))
	}
	return out
}

// CenterCrop2D crops a row-major image symmetrically. When the leftover is
// odd the extra pixel is removed from the bottom or right edge.
func CenterCrop2D(data []float64, rows, cols, targetRows, targetCols int) []float64 {
	targetRows, targetCols = min(targetRows, rows), min(targetCols, cols)
	top := (rows - targetRows) / 2
	left := (cols - targetCols) / 2
	out := make([]float64, targetRows*targetCols)
	for r := 0; r < targetRows; r++ {
		src := (top+r)*cols + left
		copy(out[r*targetCols:(r+1)*targetCols], data[src:src+targetCols])
	}
	return out
}
