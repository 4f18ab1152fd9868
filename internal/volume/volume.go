// Package volume holds 3D image stacks and the geometric operations of the
// extraction pipeline: assembly from slices, cross-modality alignment,
// physical extent cropping and resampling.
package volume

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/mrsinham/mriprep/internal/dicom"
)

var (
	// ErrStackingMismatch is returned when slices of a series do not share
	// one shape or frame count.
	ErrStackingMismatch = errors.New("slices cannot be stacked")
	// ErrEmptyAlignment is returned when alignment leaves a modality with no
	// slices.
	ErrEmptyAlignment = errors.New("no slices left after alignment")
)

// Spacing is the physical size of a voxel in millimetres.
type Spacing struct {
	Row   float64 `yaml:"row"`
	Col   float64 `yaml:"col"`
	Slice float64 `yaml:"slice"`
}

// Validate reports whether every component is strictly positive.
func (s Spacing) Validate() error {
	if s.Row <= 0 || s.Col <= 0 || s.Slice <= 0 {
		return fmt.Errorf("invalid spacing %v: components must be positive", s)
	}
	return nil
}

func (s Spacing) axes() [3]float64 {
	return [3]float64{s.Row, s.Col, s.Slice}
}

// Volume is a stack of equally sized 2D slices stored slice-major:
// Data[s*Rows*Cols + r*Cols + c].
type Volume struct {
	Rows    int
	Cols    int
	Slices  int
	Data    []float64
	Spacing Spacing
	// Positions holds the physical position of each slice.
	Positions []float64
}

// New allocates a zeroed volume.
func New(rows, cols, slices int, spacing Spacing) *Volume {
	return &Volume{
		Rows:      rows,
		Cols:      cols,
		Slices:    slices,
		Data:      make([]float64, rows*cols*slices),
		Spacing:   spacing,
		Positions: make([]float64, slices),
	}
}

// Shape returns (rows, cols, slices).
func (v *Volume) Shape() [3]int {
	return [3]int{v.Rows, v.Cols, v.Slices}
}

// At returns the voxel at slice s, row r, column c.
func (v *Volume) At(s, r, c int) float64 {
	return v.Data[(s*v.Rows+r)*v.Cols+c]
}

// Set writes the voxel at slice s, row r, column c.
func (v *Volume) Set(s, r, c int, value float64) {
	v.Data[(s*v.Rows+r)*v.Cols+c] = value
}

// Slice returns the pixels of slice s. The result aliases the volume data.
func (v *Volume) Slice(s int) []float64 {
	n := v.Rows * v.Cols
	return v.Data[s*n : (s+1)*n]
}

// Set groups the three modality volumes of one study.
type Set struct {
	T2W *Volume
	ADC *Volume
	DWI *Volume
}

// Volumes returns the volumes in channel order.
func (s Set) Volumes() [3]*Volume {
	return [3]*Volume{s.T2W, s.ADC, s.DWI}
}

// Assemble stacks the slices of one series in order of ascending position.
// The spacing of the result is the mean of the per-file spacings.
//
// A series whose files carry several frames each is collapsed: the frames
// of the first file become the slices and share that file's position. This
// discards every other file and is logged as a warning.
func Assemble(slices []dicom.Slice, log logrus.FieldLogger) (*Volume, error) {
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrStackingMismatch)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	sorted := make([]dicom.Slice, len(slices))
	copy(sorted, slices)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	first := sorted[0]
	if len(first.Frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", ErrStackingMismatch, first.Path)
	}
	rows, cols, nFrames := first.Frames[0].Rows, first.Frames[0].Cols, len(first.Frames)
	for _, sl := range sorted {
		if len(sl.Frames) != nFrames {
			return nil, fmt.Errorf("%w: %s has %d frames, expected %d", ErrStackingMismatch, sl.Path, len(sl.Frames), nFrames)
		}
		for _, f := range sl.Frames {
			if f.Rows != rows || f.Cols != cols {
				return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d", ErrStackingMismatch, sl.Path, f.Rows, f.Cols, rows, cols)
			}
		}
	}

	spacing := meanSpacing(sorted)
	if err := spacing.Validate(); err != nil {
		return nil, err
	}

	if nFrames > 1 {
		return multiFrameCollapse(first, spacing, len(sorted), log), nil
	}

	v := New(rows, cols, len(sorted), spacing)
	for s, sl := range sorted {
		copy(v.Slice(s), sl.Frames[0].Data)
		v.Positions[s] = sl.Position
	}
	return v, nil
}

func multiFrameCollapse(first dicom.Slice, spacing Spacing, files int, log logrus.FieldLogger) *Volume {
	frames := first.Frames
	log.WithFields(logrus.Fields{
		"condition": "multiFrameCollapse",
		"file":      first.Path,
		"frames":    len(frames),
		"dropped":   files - 1,
	}).Warn("multi-frame series collapsed to the frames of its first file")

	v := New(frames[0].Rows, frames[0].Cols, len(frames), spacing)
	for s, f := range frames {
		copy(v.Slice(s), f.Data)
		v.Positions[s] = first.Position
	}
	return v
}

func meanSpacing(slices []dicom.Slice) Spacing {
	rows := make([]float64, len(slices))
	cols := make([]float64, len(slices))
	thick := make([]float64, len(slices))
	for i, sl := range slices {
		rows[i] = sl.RowSpacing
		cols[i] = sl.ColSpacing
		thick[i] = sl.Thickness
	}
	return Spacing{
		Row:   stat.Mean(rows, nil),
		Col:   stat.Mean(cols, nil),
		Slice: stat.Mean(thick, nil),
	}
}
