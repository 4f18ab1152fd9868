// Package dicom reads the MR series of a patient study: it groups files into
// series, resolves per-file geometry and diffusion b-values, and decodes
// pixel data into float frames.
package dicom

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Header is a parsed DICOM dataset together with the file it came from.
type Header struct {
	Path    string
	Dataset dicom.Dataset

	flat map[tag.Tag]*dicom.Element
}

// Frame is one decoded 2D image in row-major order.
type Frame struct {
	Rows int
	Cols int
	Data []float64
}

// ReadHeader parses a DICOM file without its pixel data.
func ReadHeader(path string) (*Header, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Header{Path: path, Dataset: ds}, nil
}

// ReadFile parses a DICOM file including its pixel data.
func ReadFile(path string) (*Header, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Header{Path: path, Dataset: ds}, nil
}

// Element returns the top-level element with the given tag, or nil.
// Elements nested in sequences are not considered.
func (h *Header) Element(t tag.Tag) *dicom.Element {
	elem, err := h.Dataset.FindElementByTag(t)
	if err != nil {
		return nil
	}
	return elem
}

// Flat returns the recursively flattened dataset, building it on first use.
func (h *Header) Flat() map[tag.Tag]*dicom.Element {
	if h.flat == nil {
		h.flat = Flatten(h.Dataset.Elements)
	}
	return h.flat
}

// Flatten expands sequence elements recursively into a single mapping keyed
// by tag. When a tag occurs more than once the first occurrence in document
// order is kept, so per-frame sequences resolve to their first frame.
func Flatten(elements []*dicom.Element) map[tag.Tag]*dicom.Element {
	flat := make(map[tag.Tag]*dicom.Element)
	flattenInto(flat, elements)
	return flat
}

func flattenInto(flat map[tag.Tag]*dicom.Element, elements []*dicom.Element) {
	for _, elem := range elements {
		if elem == nil {
			continue
		}
		if _, seen := flat[elem.Tag]; !seen {
			flat[elem.Tag] = elem
		}
		if elem.Value == nil || elem.Value.ValueType() != dicom.Sequences {
			continue
		}
		items, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
		if !ok {
			continue
		}
		for _, item := range items {
			if nested, ok := item.GetValue().([]*dicom.Element); ok {
				flattenInto(flat, nested)
			}
		}
	}
}

// String returns the first string value of a top-level element, or "".
func (h *Header) String(t tag.Tag) string {
	values := stringValues(h.Element(t))
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Frames decodes every frame of the pixel data.
func (h *Header) Frames() ([]Frame, error) {
	elem := h.Element(tag.PixelData)
	if elem == nil {
		return nil, fmt.Errorf("%s: no pixel data", h.Path)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected pixel data value %T", h.Path, elem.Value.GetValue())
	}
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("%s: pixel data has no frames", h.Path)
	}

	format := h.pixelFormat()
	frames := make([]Frame, 0, len(info.Frames))
	for i, fr := range info.Frames {
		var (
			f   Frame
			err error
		)
		if fr.Encapsulated {
			f, err = decodeEncapsulated(fr.GetImage)
		} else {
			f, err = decodeNative(fr.NativeData, format)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: frame %d: %w", h.Path, i, err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// pixelFormat describes how stored native samples map to pixel values.
type pixelFormat struct {
	// Signed is set for PixelRepresentation 1 (two's complement samples).
	Signed     bool
	BitsStored int
}

var (
	tagBitsStored          = tag.Tag{Group: 0x0028, Element: 0x0101}
	tagPixelRepresentation = tag.Tag{Group: 0x0028, Element: 0x0103}
)

func (h *Header) pixelFormat() pixelFormat {
	format := pixelFormat{BitsStored: 16}
	if bits, ok := nthFloat(h.Element(tagBitsStored), 0); ok && bits >= 1 && bits <= 32 {
		format.BitsStored = int(bits)
	}
	if rep, ok := nthFloat(h.Element(tagPixelRepresentation), 0); ok && rep == 1 {
		format.Signed = true
	}
	return format
}

// value returns the pixel value of a raw sample. The reader hands back
// native samples as unsigned integers, so signed data is reinterpreted as
// two's complement over BitsStored bits.
func (p pixelFormat) value(sample int) float64 {
	if !p.Signed {
		return float64(sample)
	}
	mask := int64(1)<<p.BitsStored - 1
	v := int64(sample) & mask
	if v&(int64(1)<<(p.BitsStored-1)) != 0 {
		v -= int64(1) << p.BitsStored
	}
	return float64(v)
}

// nativeFrame is the subset of frame.INativeFrame used for decoding.
type nativeFrame interface {
	Rows() int
	Cols() int
	GetPixel(x, y int) ([]int, error)
}

func decodeNative(nf nativeFrame, format pixelFormat) (Frame, error) {
	if nf == nil {
		return Frame{}, fmt.Errorf("missing native frame data")
	}
	rows, cols := nf.Rows(), nf.Cols()
	f := Frame{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px, err := nf.GetPixel(x, y)
			if err != nil {
				return Frame{}, err
			}
			// Only the first sample is used; MR images are single-channel.
			f.Data[y*cols+x] = format.value(px[0])
		}
	}
	return f, nil
}

// decodeEncapsulated keeps the bit depth of the decoded image: 8-bit
// grayscale stays in 0-255 and 16-bit grayscale in 0-65535.
func decodeEncapsulated(getImage func() (image.Image, error)) (Frame, error) {
	img, err := getImage()
	if err != nil {
		return Frame{}, fmt.Errorf("decode encapsulated frame: %w", err)
	}
	var at func(x, y int) float64
	switch im := img.(type) {
	case *image.Gray16:
		at = func(x, y int) float64 { return float64(im.Gray16At(x, y).Y) }
	case *image.Gray:
		at = func(x, y int) float64 { return float64(im.GrayAt(x, y).Y) }
	default:
		at = func(x, y int) float64 { return float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y) }
	}
	b := img.Bounds()
	f := Frame{Rows: b.Dy(), Cols: b.Dx(), Data: make([]float64, b.Dx()*b.Dy())}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			f.Data[(y-b.Min.Y)*f.Cols+(x-b.Min.X)] = at(x, y)
		}
	}
	return f, nil
}

// stringValues returns the values of an element as strings, decoding raw
// bytes of unknown-VR private elements as backslash separated text.
func stringValues(elem *dicom.Element) []string {
	if elem == nil || elem.Value == nil {
		return nil
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = strings.TrimSpace(strings.TrimRight(s, "\x00"))
		}
		return out
	case []byte:
		text := strings.TrimSpace(strings.TrimRight(string(v), "\x00 "))
		if text == "" {
			return nil
		}
		parts := strings.Split(text, `\`)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []float64:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.FormatFloat(n, 'g', -1, 64)
		}
		return out
	}
	return nil
}

// floatValues returns the numeric values of an element. It fails when the
// element is absent, empty, or holds non-numeric text.
func floatValues(elem *dicom.Element) ([]float64, bool) {
	if elem == nil || elem.Value == nil {
		return nil, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []float64:
		return v, len(v) > 0
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, len(out) > 0
	}

	values := stringValues(elem)
	if len(values) == 0 {
		return nil, false
	}
	out := make([]float64, 0, len(values))
	for _, s := range values {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
