// Package tensor turns the canonical modality volumes of a study into
// fixed-shape float32 tensors and writes them as NPY files.
package tensor

import (
	"fmt"
	"path/filepath"

	"github.com/mrsinham/mriprep/internal/volume"
)

// Output file names.
const (
	WholeFile  = "whole.npy"
	InputFile  = "whole_inp.npy"
	ADCRawFile = "adc_raw.npy"
)

// ChannelFile returns the file name of a single-channel tensor.
func ChannelFile(channel int) string {
	return fmt.Sprintf("%04d.npy", channel)
}

// Layout is the fixed output geometry.
type Layout struct {
	// Crop bounds each in-plane dimension before resizing.
	Crop int `yaml:"crop"`
	// Size is the in-plane edge length of every output slice.
	Size int `yaml:"size"`
	// Slices is the number of output slices.
	Slices int `yaml:"slices"`
}

// DefaultLayout is 22 slices of 224x224 cropped from at most 384x384.
func DefaultLayout() Layout {
	return Layout{Crop: 384, Size: 224, Slices: 22}
}

// Validate reports whether every dimension is positive.
func (l Layout) Validate() error {
	if l.Crop <= 0 || l.Size <= 0 || l.Slices <= 0 {
		return fmt.Errorf("invalid layout %+v", l)
	}
	return nil
}

// Outputs holds the tensors written for one study. Whole and Input have
// shape (Slices, Size, 3*Size) with the channels side by side along the
// width; each channel tensor has shape (Slices, Size, Size).
type Outputs struct {
	Whole    Array
	Input    Array
	Channels [3]Array
	// ADCRaw is the resized ADC before any normalization, kept for
	// computing cohort statistics.
	ADCRaw Array
}

// Prepare crops each modality to at most Crop pixels per in-plane axis, then
// resizes it with nearest-neighbour sampling to Size x Size and Slices
// slices.
func Prepare(set volume.Set, layout Layout) volume.Set {
	var out [3]*volume.Volume
	for i, v := range set.Volumes() {
		v = v.CenterCrop(layout.Crop, layout.Crop)
		v = volume.ResizeNearest(v, [3]int{layout.Size, layout.Size, v.Slices})
		out[i] = volume.ResizeNearest(v, [3]int{layout.Size, layout.Size, layout.Slices})
	}
	return volume.Set{T2W: out[0], ADC: out[1], DWI: out[2]}
}

// Build normalizes a prepared set and assembles the output tensors.
//
// The whole tensor holds every modality min-max scaled per slice. The model
// input holds T2W and DWI min-max scaled per slice, ADC clipped and z-scored
// with the cohort statistics, and each channel shifted and scaled by its
// fixed constants.
func Build(set volume.Set, stats Stats) (*Outputs, error) {
	if err := stats.Validate(); err != nil {
		return nil, err
	}
	vols := set.Volumes()
	for _, v := range vols[1:] {
		if v.Shape() != vols[0].Shape() {
			return nil, fmt.Errorf("modality shapes differ: %v, %v, %v", vols[0].Shape(), vols[1].Shape(), vols[2].Shape())
		}
	}

	var scaled [3]*volume.Volume
	for i, v := range vols {
		scaled[i] = MinMaxSlices(v)
	}

	standardized := [3]*volume.Volume{scaled[0], Standardize(set.ADC, stats), scaled[2]}
	var channels [3]*volume.Volume
	for i, v := range standardized {
		channels[i] = ChannelNormalize(v, i)
	}

	out := &Outputs{
		Whole:  concatWidth(scaled),
		Input:  concatWidth(channels),
		ADCRaw: toArray(set.ADC),
	}
	for i, v := range channels {
		out.Channels[i] = toArray(v)
	}
	return out, nil
}

// Write stores the tensors in dir. The raw ADC tensor is written only when
// keepRaw is set.
func (o *Outputs) Write(dir string, keepRaw bool) error {
	files := []struct {
		name string
		a    Array
	}{
		{WholeFile, o.Whole},
		{ChannelFile(0), o.Channels[0]},
		{ChannelFile(1), o.Channels[1]},
		{ChannelFile(2), o.Channels[2]},
		{InputFile, o.Input},
	}
	if keepRaw {
		files = append(files, struct {
			name string
			a    Array
		}{ADCRawFile, o.ADCRaw})
	}
	for _, f := range files {
		if err := WriteNPY(filepath.Join(dir, f.name), f.a); err != nil {
			return err
		}
	}
	return nil
}

// toArray converts a volume to a (slices, rows, cols) float32 array.
func toArray(v *volume.Volume) Array {
	a := Array{Shape: []int{v.Slices, v.Rows, v.Cols}, Data: make([]float32, len(v.Data))}
	for i, x := range v.Data {
		a.Data[i] = float32(x)
	}
	return a
}

// concatWidth places equally shaped volumes side by side along the column
// axis.
func concatWidth(vols [3]*volume.Volume) Array {
	rows, cols, slices := vols[0].Rows, vols[0].Cols, vols[0].Slices
	width := cols * len(vols)
	a := Array{Shape: []int{slices, rows, width}, Data: make([]float32, slices*rows*width)}
	for s := 0; s < slices; s++ {
		for r := 0; r < rows; r++ {
			for m, v := range vols {
				dst := (s*rows+r)*width + m*cols
				for c := 0; c < cols; c++ {
					a.Data[dst+c] = float32(v.At(s, r, c))
				}
			}
		}
	}
	return a
}
