package dicom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrSpacingResolution is returned when a geometric field cannot be obtained
// by any of its lookups.
var ErrSpacingResolution = errors.New("spacing resolution failed")

// Lookup is one way of obtaining a field from a header. Lookups for a field
// are tried in order and the first that succeeds wins.
type Lookup[T any] struct {
	Name string
	Get  func(h *Header) (T, bool)
}

// Geometry is the spatial information of a single file.
type Geometry struct {
	// Position is the through-plane slice coordinate in millimetres.
	Position float64
	// RowSpacing and ColSpacing are the in-plane pixel spacing in millimetres.
	RowSpacing float64
	ColSpacing float64
	Thickness  float64
}

var (
	tagSliceLocation        = tag.Tag{Group: 0x0020, Element: 0x1041}
	tagImagePositionPatient = tag.Tag{Group: 0x0020, Element: 0x0032}
	tagPixelSpacing         = tag.Tag{Group: 0x0028, Element: 0x0030}
	tagSliceThickness       = tag.Tag{Group: 0x0018, Element: 0x0050}
	tagSeriesDescription    = tag.Tag{Group: 0x0008, Element: 0x103E}
	tagSeriesInstanceUID    = tag.Tag{Group: 0x0020, Element: 0x000E}
)

// PositionLookups resolve the slice position.
var PositionLookups = []Lookup[float64]{
	{Name: "SliceLocation", Get: func(h *Header) (float64, bool) {
		return nthFloat(h.Element(tagSliceLocation), 0)
	}},
	{Name: "ImagePositionPatient", Get: func(h *Header) (float64, bool) {
		return nthFloat(h.Element(tagImagePositionPatient), 2)
	}},
	{Name: "flattened ImagePositionPatient", Get: func(h *Header) (float64, bool) {
		// Flat keeps the first occurrence, so per-frame groups yield frame 1.
		return nthFloat(h.Flat()[tagImagePositionPatient], 2)
	}},
}

// PixelSpacingLookups resolve the in-plane spacing as (row, column).
var PixelSpacingLookups = []Lookup[[2]float64]{
	{Name: "PixelSpacing", Get: func(h *Header) ([2]float64, bool) {
		return pair(h.Element(tagPixelSpacing))
	}},
	{Name: "flattened PixelSpacing", Get: func(h *Header) ([2]float64, bool) {
		return pair(h.Flat()[tagPixelSpacing])
	}},
}

// ThicknessLookups resolve the slice thickness.
var ThicknessLookups = []Lookup[float64]{
	{Name: "SliceThickness", Get: func(h *Header) (float64, bool) {
		return nthFloat(h.Element(tagSliceThickness), 0)
	}},
	{Name: "flattened SliceThickness", Get: func(h *Header) (float64, bool) {
		return nthFloat(h.Flat()[tagSliceThickness], 0)
	}},
}

func resolve[T any](h *Header, field string, lookups []Lookup[T]) (T, error) {
	for _, l := range lookups {
		if v, ok := l.Get(h); ok {
			return v, nil
		}
	}
	var zero T
	names := make([]string, len(lookups))
	for i, l := range lookups {
		names[i] = l.Name
	}
	return zero, fmt.Errorf("%w: %s of %s (tried %s)", ErrSpacingResolution, field, h.Path, strings.Join(names, ", "))
}

// ResolvePosition returns the slice position of a file.
func ResolvePosition(h *Header) (float64, error) {
	return resolve(h, "position", PositionLookups)
}

// ResolvePixelSpacing returns the in-plane spacing of a file.
func ResolvePixelSpacing(h *Header) ([2]float64, error) {
	spacing, err := resolve(h, "pixel spacing", PixelSpacingLookups)
	if err != nil {
		return spacing, err
	}
	if spacing[0] <= 0 || spacing[1] <= 0 {
		return spacing, fmt.Errorf("%w: non-positive pixel spacing %v in %s", ErrSpacingResolution, spacing, h.Path)
	}
	return spacing, nil
}

// ResolveThickness returns the slice thickness of a file.
func ResolveThickness(h *Header) (float64, error) {
	thickness, err := resolve(h, "slice thickness", ThicknessLookups)
	if err != nil {
		return 0, err
	}
	if thickness <= 0 {
		return 0, fmt.Errorf("%w: non-positive slice thickness %g in %s", ErrSpacingResolution, thickness, h.Path)
	}
	return thickness, nil
}

// ResolveGeometry resolves position, pixel spacing and thickness together.
func ResolveGeometry(h *Header) (Geometry, error) {
	pos, err := ResolvePosition(h)
	if err != nil {
		return Geometry{}, err
	}
	spacing, err := ResolvePixelSpacing(h)
	if err != nil {
		return Geometry{}, err
	}
	thickness, err := ResolveThickness(h)
	if err != nil {
		return Geometry{}, err
	}
	return Geometry{
		Position:   pos,
		RowSpacing: spacing[0],
		ColSpacing: spacing[1],
		Thickness:  thickness,
	}, nil
}

// Description returns the series description, falling back to the flattened
// dataset. A missing description yields "".
func (h *Header) Description() string {
	if d := h.String(tagSeriesDescription); d != "" {
		return d
	}
	values := stringValues(h.Flat()[tagSeriesDescription])
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// SeriesUID returns the SeriesInstanceUID, or "" when absent.
func (h *Header) SeriesUID() string {
	return h.String(tagSeriesInstanceUID)
}

func nthFloat(elem *dicom.Element, n int) (float64, bool) {
	values, ok := floatValues(elem)
	if !ok || len(values) <= n {
		return 0, false
	}
	return values[n], true
}

func pair(elem *dicom.Element) ([2]float64, bool) {
	values, ok := floatValues(elem)
	if !ok || len(values) < 2 {
		return [2]float64{}, false
	}
	return [2]float64{values[0], values[1]}, true
}
