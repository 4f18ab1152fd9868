package dicom

import (
	"errors"
	"math"
	"sort"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/mriprep/internal/dicom/csa"
)

// DefaultTargetBValue is the diffusion weighting the DWI channel is built from.
const DefaultTargetBValue = 1500

// ErrNoBValues is returned by SelectBValue for an empty candidate list.
var ErrNoBValues = errors.New("no b-values to select from")

var (
	tagDiffusionBValue   = tag.Tag{Group: 0x0018, Element: 0x9087}
	tagSiemensCSAImage   = tag.Tag{Group: 0x0029, Element: 0x1010}
	tagSiemensBValue     = tag.Tag{Group: 0x0019, Element: 0x100C}
	tagPhilipsBValue     = tag.Tag{Group: 0x2001, Element: 0x1003}
	tagGEDiffusionParams = tag.Tag{Group: 0x0043, Element: 0x1039}
)

// geBValueOffset is added by some GE scanners to the first value of
// (0043,1039).
const geBValueOffset = 1_000_000_000

// BValueLookups resolve the diffusion b-value of a file, standard tag first,
// then vendor private locations.
var BValueLookups = []Lookup[float64]{
	{Name: "DiffusionBValue", Get: func(h *Header) (float64, bool) {
		return nthFloat(h.Element(tagDiffusionBValue), 0)
	}},
	{Name: "flattened DiffusionBValue", Get: func(h *Header) (float64, bool) {
		return nthFloat(h.Flat()[tagDiffusionBValue], 0)
	}},
	{Name: "Siemens CSA B_value", Get: func(h *Header) (float64, bool) {
		elem := h.Flat()[tagSiemensCSAImage]
		if elem == nil || elem.Value == nil {
			return 0, false
		}
		raw, ok := elem.Value.GetValue().([]byte)
		if !ok {
			return 0, false
		}
		hdr, err := csa.Parse(raw)
		if err != nil {
			return 0, false
		}
		b, err := hdr.Float("B_value")
		if err != nil {
			return 0, false
		}
		return b, true
	}},
	{Name: "Siemens (0019,100C)", Get: func(h *Header) (float64, bool) {
		return nthFloat(h.Flat()[tagSiemensBValue], 0)
	}},
	{Name: "Philips (2001,1003)", Get: func(h *Header) (float64, bool) {
		return nthFloat(h.Flat()[tagPhilipsBValue], 0)
	}},
	{Name: "GE (0043,1039)", Get: func(h *Header) (float64, bool) {
		b, ok := nthFloat(h.Flat()[tagGEDiffusionParams], 0)
		if !ok {
			return 0, false
		}
		return math.Mod(b, geBValueOffset), true
	}},
}

// ResolveBValue returns the b-value of a file rounded to an integer and the
// name of the lookup that produced it. ok is false when no lookup succeeded;
// callers treat that file as b=0.
func ResolveBValue(h *Header) (b int, source string, ok bool) {
	for _, l := range BValueLookups {
		if v, found := l.Get(h); found && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return int(math.Round(v)), l.Name, true
		}
	}
	return 0, "", false
}

// SelectBValue returns the value in values closest to target. Ties resolve
// to the earliest value in the list.
func SelectBValue(values []int, target int) (int, error) {
	if len(values) == 0 {
		return 0, ErrNoBValues
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.SliceStable(sorted, func(i, j int) bool {
		return absInt(sorted[i]-target) < absInt(sorted[j]-target)
	})
	return sorted[0], nil
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
