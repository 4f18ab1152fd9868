package volume

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/mrsinham/mriprep/internal/dicom"
)

func slice(pos float64, rows, cols, frames int, fill float64) dicom.Slice {
	sl := dicom.Slice{
		Path:     "slice",
		Geometry: dicom.Geometry{Position: pos, RowSpacing: 0.5, ColSpacing: 0.5, Thickness: 3},
	}
	for f := 0; f < frames; f++ {
		data := make([]float64, rows*cols)
		for i := range data {
			data[i] = fill + float64(f)
		}
		sl.Frames = append(sl.Frames, dicom.Frame{Rows: rows, Cols: cols, Data: data})
	}
	return sl
}

func volumeWithPositions(rows, cols int, spacing Spacing, positions ...float64) *Volume {
	v := New(rows, cols, len(positions), spacing)
	copy(v.Positions, positions)
	for s := range positions {
		for i := range v.Slice(s) {
			v.Slice(s)[i] = float64(s)
		}
	}
	return v
}

func TestAssemble_SortsAndAveragesSpacing(t *testing.T) {
	a := slice(6, 4, 5, 1, 30)
	b := slice(0, 4, 5, 1, 10)
	c := slice(3, 4, 5, 1, 20)
	c.RowSpacing, c.ColSpacing, c.Thickness = 0.8, 0.8, 6

	v, err := Assemble([]dicom.Slice{a, b, c}, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if diff := cmp.Diff([]float64{0, 3, 6}, v.Positions); diff != "" {
		t.Errorf("positions mismatch (-want +got):\n%s", diff)
	}
	if got := []float64{v.At(0, 0, 0), v.At(1, 0, 0), v.At(2, 0, 0)}; !cmp.Equal(got, []float64{10, 20, 30}) {
		t.Errorf("slices not stacked in position order: %v", got)
	}
	want := Spacing{Row: 0.6, Col: 0.6, Slice: 4}
	if math.Abs(v.Spacing.Row-want.Row) > 1e-12 || math.Abs(v.Spacing.Col-want.Col) > 1e-12 || v.Spacing.Slice != want.Slice {
		t.Errorf("spacing = %+v, want %+v", v.Spacing, want)
	}
	if v.Shape() != [3]int{4, 5, 3} {
		t.Errorf("shape = %v", v.Shape())
	}
}

func TestAssemble_Ragged(t *testing.T) {
	_, err := Assemble([]dicom.Slice{slice(0, 4, 4, 1, 0), slice(3, 4, 5, 1, 0)}, nil)
	if !errors.Is(err, ErrStackingMismatch) {
		t.Errorf("expected ErrStackingMismatch, got %v", err)
	}
	_, err = Assemble([]dicom.Slice{slice(0, 4, 4, 1, 0), slice(3, 4, 4, 2, 0)}, nil)
	if !errors.Is(err, ErrStackingMismatch) {
		t.Errorf("expected ErrStackingMismatch for differing frame counts, got %v", err)
	}
}

func TestAssemble_MultiFrameCollapse(t *testing.T) {
	logger, hook := test.NewNullLogger()
	v, err := Assemble([]dicom.Slice{slice(9, 2, 2, 4, 100), slice(-3, 2, 2, 4, 0)}, logger)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if v.Slices != 4 {
		t.Fatalf("collapsed volume has %d slices, want 4", v.Slices)
	}
	if diff := cmp.Diff([]float64{-3, -3, -3, -3}, v.Positions); diff != "" {
		t.Errorf("positions mismatch (-want +got):\n%s", diff)
	}
	if v.At(3, 1, 1) != 3 {
		t.Errorf("last slice should come from the first file's last frame, got %g", v.At(3, 1, 1))
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Data["condition"] != "multiFrameCollapse" {
		t.Errorf("expected multiFrameCollapse warning, got %v", entry)
	}
}

func TestAlignLayers(t *testing.T) {
	sp := Spacing{Row: 1, Col: 1, Slice: 3}
	set := Set{
		T2W: volumeWithPositions(2, 2, sp, 0, 3, 6, 9, 30),
		ADC: volumeWithPositions(2, 2, sp, 1, 4, 7, 10),
		DWI: volumeWithPositions(2, 2, sp, -20, 2, 5, 8),
	}
	aligned, err := AlignLayers(set, DefaultTolerance)
	if err != nil {
		t.Fatalf("AlignLayers: %v", err)
	}
	if diff := cmp.Diff([]float64{0, 3, 6, 9}, aligned.T2W.Positions); diff != "" {
		t.Errorf("T2W positions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 4, 7, 10}, aligned.ADC.Positions); diff != "" {
		t.Errorf("ADC positions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{2, 5, 8}, aligned.DWI.Positions); diff != "" {
		t.Errorf("DWI positions (-want +got):\n%s", diff)
	}
	if aligned.DWI.At(0, 0, 0) != 1 {
		t.Errorf("kept DWI slice should be source slice 1, got %g", aligned.DWI.At(0, 0, 0))
	}
}

func TestAlignLayers_StrictTolerance(t *testing.T) {
	sp := Spacing{Row: 1, Col: 1, Slice: 3}
	set := Set{
		T2W: volumeWithPositions(1, 1, sp, 0),
		ADC: volumeWithPositions(1, 1, sp, 5),
		DWI: volumeWithPositions(1, 1, sp, 0),
	}
	_, err := AlignLayers(set, DefaultTolerance)
	if !errors.Is(err, ErrEmptyAlignment) {
		t.Errorf("distance of exactly 5.0 must not align, got %v", err)
	}
}

func TestCropToCommonExtent(t *testing.T) {
	set := Set{
		T2W: volumeWithPositions(400, 400, Spacing{Row: 0.5, Col: 0.5, Slice: 3}, 0, 3),
		ADC: volumeWithPositions(90, 110, Spacing{Row: 2, Col: 2, Slice: 3}, 0, 3),
		DWI: volumeWithPositions(210, 190, Spacing{Row: 1, Col: 1, Slice: 3}, 0, 3),
	}
	cropped, err := CropToCommonExtent(set)
	if err != nil {
		t.Fatalf("CropToCommonExtent: %v", err)
	}
	for name, v := range map[string]*Volume{"T2W": cropped.T2W, "ADC": cropped.ADC, "DWI": cropped.DWI} {
		h, w := v.Extent()
		if h != 180 || w != 190 {
			t.Errorf("%s extent = %gx%g mm, want 180x190", name, h, w)
		}
	}
	got := [][3]int{cropped.T2W.Shape(), cropped.ADC.Shape(), cropped.DWI.Shape()}
	want := [][3]int{{360, 380, 2}, {90, 95, 2}, {180, 190, 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("shapes mismatch (-want +got):\n%s", diff)
	}
	t.Logf("✓ Common extent 180x190 mm, shapes %v", got)
}

func TestCropToCommonExtent_PairsFromT2W(t *testing.T) {
	sp := Spacing{Row: 1, Col: 1, Slice: 3}
	set := Set{
		T2W: volumeWithPositions(2, 2, sp, 0, 3),
		ADC: volumeWithPositions(2, 2, sp, 0, 3, 6, 9),
		DWI: volumeWithPositions(2, 2, sp, 0),
	}
	cropped, err := CropToCommonExtent(set)
	if err != nil {
		t.Fatalf("CropToCommonExtent: %v", err)
	}
	if cropped.T2W.Slices != 1 || cropped.ADC.Slices != 1 || cropped.DWI.Slices != 1 {
		t.Fatalf("slice counts = %d/%d/%d, want 1/1/1", cropped.T2W.Slices, cropped.ADC.Slices, cropped.DWI.Slices)
	}
	if cropped.ADC.Positions[0] != 6 {
		t.Errorf("ADC pairing should start at its last two slices, got position %g", cropped.ADC.Positions[0])
	}
}

func TestCenterCrop2D(t *testing.T) {
	data := make([]float64, 5*5)
	for i := range data {
		data[i] = float64(i)
	}
	got := CenterCrop2D(data, 5, 5, 2, 3)
	want := []float64{6, 7, 8, 11, 12, 13}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CenterCrop2D mismatch (-want +got):\n%s", diff)
	}
	if got := CenterCrop2D(data, 5, 5, 10, 10); len(got) != 25 {
		t.Errorf("crop larger than image should keep it whole, got %d values", len(got))
	}
}

func TestResampleToSpacing_RoundTripShape(t *testing.T) {
	tests := []struct {
		name   string
		shape  [3]int
		orig   Spacing
		target Spacing
	}{
		{"T2W-like", [3]int{40, 30, 7}, Spacing{0.7, 0.7, 3.6}, Spacing{0.5, 0.5, 3.0}},
		{"ADC-like", [3]int{32, 32, 12}, Spacing{1.25, 1.25, 3.0}, Spacing{0.5, 0.5, 3.0}},
		{"downsample", [3]int{60, 50, 20}, Spacing{0.3, 0.4, 1.5}, Spacing{0.5, 0.5, 3.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(tt.shape[0], tt.shape[1], tt.shape[2], tt.orig)
			there, err := ResampleToSpacing(v, tt.target)
			if err != nil {
				t.Fatalf("ResampleToSpacing: %v", err)
			}
			back, err := ResampleToSpacing(there, tt.orig)
			if err != nil {
				t.Fatalf("ResampleToSpacing back: %v", err)
			}
			if back.Shape() != tt.shape {
				t.Errorf("round trip shape = %v (via %v), want %v", back.Shape(), there.Shape(), tt.shape)
			}
		})
	}
}

func TestResampleToShape(t *testing.T) {
	v := New(37, 41, 9, Spacing{Row: 1.1, Col: 0.9, Slice: 3})
	for i := range v.Data {
		v.Data[i] = 7
	}
	out, err := ResampleToShape(v, [3]int{224, 200, 22})
	if err != nil {
		t.Fatalf("ResampleToShape: %v", err)
	}
	if out.Shape() != [3]int{224, 200, 22} {
		t.Errorf("shape = %v", out.Shape())
	}
	for i, x := range out.Data {
		if x != 7 {
			t.Fatalf("constant volume changed at %d: %g", i, x)
		}
	}
	if _, err := ResampleToShape(v, [3]int{0, 1, 1}); err == nil {
		t.Error("expected error for empty shape")
	}
}

func TestZoom_Linear(t *testing.T) {
	v := New(1, 3, 1, Spacing{1, 1, 1})
	copy(v.Data, []float64{0, 10, 20})
	out := zoom(v, [3]int{1, 5, 1})
	if diff := cmp.Diff([]float64{0, 5, 10, 15, 20}, out.Data); diff != "" {
		t.Errorf("zoom mismatch (-want +got):\n%s", diff)
	}
}

func TestResizeNearest(t *testing.T) {
	v := New(2, 2, 1, Spacing{1, 1, 1})
	copy(v.Data, []float64{1, 2, 3, 4})
	out := ResizeNearest(v, [3]int{4, 4, 2})
	want := []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	if diff := cmp.Diff(want, out.Slice(0)); diff != "" {
		t.Errorf("ResizeNearest mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, out.Slice(1)); diff != "" {
		t.Errorf("second slice mismatch (-want +got):\n%s", diff)
	}
}
