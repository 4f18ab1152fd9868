// Package csa reads and writes Siemens CSA headers, the private binary blocks
// stored at (0029,1010) and (0029,1020) of Siemens MR images.
package csa

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// maxItems bounds the item count of a single element; larger counts mean the
// block is not a CSA header or is corrupted.
const maxItems = 1000

var magic = []byte{'S', 'V', '1', '0', 0x04, 0x03, 0x02, 0x01}

// ErrNotCSA is returned when a blob does not contain a readable CSA header.
var ErrNotCSA = errors.New("not a CSA header")

// Element represents a single element in a CSA header
type Element struct {
	Name     string
	VM       int32
	VR       string
	SyngoDT  int32
	NumItems int32
	Values   []string
}

// Header is a decoded CSA header keyed by element name.
type Header map[string]Element

// Build encodes a list of CSA elements into the "SV10" binary format
// used by Siemens scanners.
func Build(elements []Element) []byte {
	var buf bytes.Buffer

	buf.Write(magic)

	// binary.Write to bytes.Buffer never fails; discard errors explicitly.
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(elements)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0x4D))

	for _, elem := range elements {
		// Element name: 64 bytes, null-padded
		name := make([]byte, 64)
		copy(name, elem.Name)
		buf.Write(name)

		_ = binary.Write(&buf, binary.LittleEndian, elem.VM)

		// VR: 4 bytes, null-padded
		vr := make([]byte, 4)
		copy(vr, elem.VR)
		buf.Write(vr)

		_ = binary.Write(&buf, binary.LittleEndian, elem.SyngoDT)
		_ = binary.Write(&buf, binary.LittleEndian, elem.NumItems)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(0x4D))

		for i := int32(0); i < elem.NumItems; i++ {
			var val []byte
			if i < int32(len(elem.Values)) {
				val = append([]byte(elem.Values[i]), 0)
			}

			// Item length (repeated 4 times per CSA format)
			itemLen := uint32(len(val))
			for j := 0; j < 4; j++ {
				_ = binary.Write(&buf, binary.LittleEndian, itemLen)
			}

			buf.Write(val)

			if padding := (4 - len(val)%4) % 4; padding > 0 {
				buf.Write(make([]byte, padding))
			}
		}
	}

	return buf.Bytes()
}

// Parse decodes a CSA header. Both the "SV10" (CSA2) layout and the older
// CSA1 layout without magic bytes are accepted.
func Parse(data []byte) (Header, error) {
	r := &reader{data: data}
	csa1 := true
	if bytes.HasPrefix(data, magic[:4]) {
		csa1 = false
		r.pos = len(magic)
	}

	nTags, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCSA, err)
	}
	if nTags == 0 || nTags > 128 {
		return nil, fmt.Errorf("%w: implausible tag count %d", ErrNotCSA, nTags)
	}
	if _, err := r.uint32(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCSA, err)
	}

	header := make(Header, nTags)
	var firstItems int32 = -1
	for t := uint32(0); t < nTags; t++ {
		name, err := r.cstring(64)
		if err != nil {
			return nil, fmt.Errorf("%w: tag %d name: %v", ErrNotCSA, t, err)
		}
		var elem Element
		elem.Name = name
		if elem.VM, err = r.int32(); err != nil {
			return nil, fmt.Errorf("%w: tag %s: %v", ErrNotCSA, name, err)
		}
		if elem.VR, err = r.cstring(4); err != nil {
			return nil, fmt.Errorf("%w: tag %s: %v", ErrNotCSA, name, err)
		}
		if elem.SyngoDT, err = r.int32(); err != nil {
			return nil, fmt.Errorf("%w: tag %s: %v", ErrNotCSA, name, err)
		}
		if elem.NumItems, err = r.int32(); err != nil {
			return nil, fmt.Errorf("%w: tag %s: %v", ErrNotCSA, name, err)
		}
		if _, err = r.int32(); err != nil {
			return nil, fmt.Errorf("%w: tag %s: %v", ErrNotCSA, name, err)
		}
		if elem.NumItems < 0 || elem.NumItems > maxItems {
			return nil, fmt.Errorf("%w: tag %s has %d items", ErrNotCSA, name, elem.NumItems)
		}
		if firstItems < 0 {
			firstItems = elem.NumItems
		}

		for i := int32(0); i < elem.NumItems; i++ {
			var lens [4]int32
			for j := range lens {
				if lens[j], err = r.int32(); err != nil {
					return nil, fmt.Errorf("%w: tag %s item %d: %v", ErrNotCSA, name, i, err)
				}
			}
			itemLen := int(lens[1])
			if csa1 {
				itemLen = int(lens[0] - firstItems)
				if itemLen < 0 || r.pos+itemLen > len(data) {
					break
				}
			}
			if itemLen < 0 || r.pos+itemLen > len(data) {
				return nil, fmt.Errorf("%w: tag %s item %d overruns header", ErrNotCSA, name, i)
			}
			raw := data[r.pos : r.pos+itemLen]
			r.pos += itemLen + (4-itemLen%4)%4
			if i < elem.VM || elem.VM == 0 {
				elem.Values = append(elem.Values, trimValue(raw))
			}
		}
		header[name] = elem
	}
	return header, nil
}

// Float returns the first value of the named element as a float.
func (h Header) Float(name string) (float64, error) {
	elem, ok := h[name]
	if !ok {
		return 0, fmt.Errorf("CSA element %q not present", name)
	}
	for _, v := range elem.Values {
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("CSA element %q: %w", name, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("CSA element %q has no value", name)
}

// Int returns the first value of the named element truncated to an int.
func (h Header) Int(name string) (int, error) {
	f, err := h.Float(name)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func trimValue(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(string(raw))
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) next(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("unexpected end of data at offset %d", r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *reader) cstring(n int) (string, error) {
	b, err := r.next(n)
	if err != nil {
		return "", err
	}
	return trimValue(b), nil
}
