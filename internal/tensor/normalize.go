package tensor

import (
	"gonum.org/v1/gonum/floats"

	"github.com/mrsinham/mriprep/internal/volume"
)

// minMaxEpsilon keeps constant images finite under min-max scaling.
const minMaxEpsilon = 1e-9

// Per-channel mean and standard deviation applied to the model input,
// indexed T2W, ADC, DWI.
var (
	ChannelMean = [3]float64{0.485, 0.456, 0.406}
	ChannelStd  = [3]float64{0.229, 0.224, 0.225}
)

// MinMax scales x in place to [0, 1]: (x - min) / (max - min + 1e-9).
func MinMax(x []float64) {
	if len(x) == 0 {
		return
	}
	lo, hi := floats.Min(x), floats.Max(x)
	floats.AddConst(-lo, x)
	floats.Scale(1/(hi-lo+minMaxEpsilon), x)
}

// MinMaxSlices returns a copy of v with every slice min-max scaled on its
// own.
func MinMaxSlices(v *volume.Volume) *volume.Volume {
	out := clone(v)
	for s := 0; s < out.Slices; s++ {
		MinMax(out.Slice(s))
	}
	return out
}

// Standardize returns a copy of v clipped to [stats.P005, stats.P995] and
// z-scored with stats.Mean and stats.Std.
func Standardize(v *volume.Volume, stats Stats) *volume.Volume {
	out := clone(v)
	clip(out.Data, stats.P005, stats.P995)
	floats.AddConst(-stats.Mean, out.Data)
	floats.Scale(1/stats.Std, out.Data)
	return out
}

// ChannelNormalize returns a copy of v shifted and scaled by the constants
// of the given channel.
func ChannelNormalize(v *volume.Volume, channel int) *volume.Volume {
	out := clone(v)
	floats.AddConst(-ChannelMean[channel], out.Data)
	floats.Scale(1/ChannelStd[channel], out.Data)
	return out
}

func clip(x []float64, lo, hi float64) {
	for i, v := range x {
		switch {
		case v < lo:
			x[i] = lo
		case v > hi:
			x[i] = hi
		}
	}
}

func clone(v *volume.Volume) *volume.Volume {
	out := volume.New(v.Rows, v.Cols, v.Slices, v.Spacing)
	copy(out.Data, v.Data)
	copy(out.Positions, v.Positions)
	return out
}
