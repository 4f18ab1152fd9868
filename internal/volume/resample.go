package volume

import (
	"fmt"
	"math"
)

// ResampleToSpacing resamples v so that its voxels have the target spacing.
// Each axis is scaled by current/target spacing and the output size is the
// rounded product of the input size and that factor.
func ResampleToSpacing(v *Volume, target Spacing) (*Volume, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := v.Spacing.Validate(); err != nil {
		return nil, err
	}
	cur, tgt, in := v.Spacing.axes(), target.axes(), v.Shape()
	var shape [3]int
	for i := range shape {
		shape[i] = max(1, int(math.RoundToEven(float64(in[i])*cur[i]/tgt[i])))
	}
	out := zoom(v, shape)
	out.Spacing = target
	return out, nil
}

// ResampleToShape resamples v onto exactly the given (rows, cols, slices)
// grid. The spacing of the result is scaled so the physical extent is kept.
func ResampleToShape(v *Volume, shape [3]int) (*Volume, error) {
	for _, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("invalid target shape %v", shape)
		}
	}
	out := zoom(v, shape)
	out.Spacing = Spacing{
		Row:   v.Spacing.Row * float64(v.Rows) / float64(shape[0]),
		Col:   v.Spacing.Col * float64(v.Cols) / float64(shape[1]),
		Slice: v.Spacing.Slice * float64(v.Slices) / float64(shape[2]),
	}
	return out, nil
}

// sample is one output coordinate expressed as two neighbouring input
// indices and the weight of the upper one.
type sample struct {
	lo, hi int
	t      float64
}

// axisSamples maps out grid points onto an axis of length in. The first
// and last points of both grids coincide; coordinates are clamped to the
// input so edges repeat the nearest voxel.
func axisSamples(in, out int) []sample {
	samples := make([]sample, out)
	if in == 1 || out == 1 {
		return samples
	}
	scale := float64(in-1) / float64(out-1)
	for o := range samples {
		x := math.Min(math.Max(float64(o)*scale, 0), float64(in-1))
		lo := int(math.Floor(x))
		hi := min(lo+1, in-1)
		samples[o] = sample{lo: lo, hi: hi, t: x - float64(lo)}
	}
	return samples
}

// zoom is the interpolation core shared by ResampleToSpacing and
// ResampleToShape: trilinear interpolation onto a grid of the given shape.
// Slice positions are interpolated along with the data.
func zoom(v *Volume, shape [3]int) *Volume {
	rs := axisSamples(v.Rows, shape[0])
	cs := axisSamples(v.Cols, shape[1])
	ss := axisSamples(v.Slices, shape[2])

	out := New(shape[0], shape[1], shape[2], v.Spacing)
	for s, sw := range ss {
		out.Positions[s] = lerp(v.Positions[sw.lo], v.Positions[sw.hi], sw.t)
		for r, rw := range rs {
			for c, cw := range cs {
				lo := bilinear(v, sw.lo, rw, cw)
				hi := bilinear(v, sw.hi, rw, cw)
				out.Set(s, r, c, lerp(lo, hi, sw.t))
			}
		}
	}
	return out
}

func bilinear(v *Volume, s int, rw, cw sample) float64 {
	top := lerp(v.At(s, rw.lo, cw.lo), v.At(s, rw.lo, cw.hi), cw.t)
	bottom := lerp(v.At(s, rw.hi, cw.lo), v.At(s, rw.hi, cw.hi), cw.t)
	return lerp(top, bottom, rw.t)
}

func lerp(a, b, t float64) float64 {
	if t == 0 {
		return a
	}
	return a + (b-a)*t
}

// ResizeNearest resamples v onto the given shape by zero-order
// interpolation: each output voxel copies the input voxel whose cell
// contains its centre.
func ResizeNearest(v *Volume, shape [3]int) *Volume {
	ri := nearestIndices(v.Rows, shape[0])
	ci := nearestIndices(v.Cols, shape[1])
	si := nearestIndices(v.Slices, shape[2])

	out := New(shape[0], shape[1], shape[2], Spacing{
		Row:   v.Spacing.Row * float64(v.Rows) / float64(shape[0]),
		Col:   v.Spacing.Col * float64(v.Cols) / float64(shape[1]),
		Slice: v.Spacing.Slice * float64(v.Slices) / float64(shape[2]),
	})
	for s, src := range si {
		out.Positions[s] = v.Positions[src]
		for r, sr := range ri {
			for c, sc := range ci {
				out.Set(s, r, c, v.At(src, sr, sc))
			}
		}
	}
	return out
}

func nearestIndices(in, out int) []int {
	idx := make([]int, out)
	for o := range idx {
		src := int(math.Floor((float64(o) + 0.5) * float64(in) / float64(out)))
		idx[o] = min(max(src, 0), in-1)
	}
	return idx
}
