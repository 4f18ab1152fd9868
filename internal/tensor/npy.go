package tensor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unsafe"

	"github.com/sbinet/npyio/npy"
)

// ErrNPYFormat is returned for files that are not little-endian float NPY
// arrays in C order.
var ErrNPYFormat = errors.New("unsupported npy file")

// Array is a dense float32 array in C order.
type Array struct {
	Shape []int
	Data  []float32
}

// Len returns the number of elements implied by the shape.
func (a Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// WriteNPY writes a as an NPY file with dtype '<f4' and the shape of a.
func WriteNPY(path string, a Array) error {
	if a.Len() != len(a.Data) {
		return fmt.Errorf("shape %v does not match %d values", a.Shape, len(a.Data))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := npy.Write(w, a.shaped()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// shaped returns a pointer to a fixed-size array of a's shape holding a
// copy of its data; npy derives the written shape from the array type.
func (a Array) shaped() any {
	t := reflect.TypeOf(float32(0))
	for i := len(a.Shape) - 1; i >= 0; i-- {
		t = reflect.ArrayOf(a.Shape[i], t)
	}
	v := reflect.New(t)
	if len(a.Data) > 0 {
		copy(unsafe.Slice((*float32)(v.UnsafePointer()), len(a.Data)), a.Data)
	}
	return v.Interface()
}

// ReadNPY reads a little-endian float32 or float64 NPY file in C order.
// float64 data is converted to float32.
func ReadNPY(path string) (Array, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Array{}, err
	}
	a, err := decodeNPY(raw)
	if err != nil {
		return Array{}, fmt.Errorf("read %s: %w", path, err)
	}
	return a, nil
}

func decodeNPY(raw []byte) (Array, error) {
	br := bytes.NewReader(raw)
	r, err := npy.NewReader(br)
	if err != nil {
		return Array{}, fmt.Errorf("%w: %w", ErrNPYFormat, err)
	}
	descr := r.Header.Descr
	if descr.Fortran {
		return Array{}, fmt.Errorf("%w: fortran order", ErrNPYFormat)
	}

	a := Array{Shape: descr.Shape}
	n := a.Len()
	var size int
	switch descr.Type {
	case "<f4":
		size = 4
	case "<f8":
		size = 8
	default:
		return Array{}, fmt.Errorf("%w: dtype %q", ErrNPYFormat, descr.Type)
	}
	if br.Len() < n*size {
		return Array{}, fmt.Errorf("%w: %d data bytes for shape %v", ErrNPYFormat, br.Len(), descr.Shape)
	}
	if n == 0 {
		return a, nil
	}

	if size == 4 {
		a.Data = make([]float32, n)
		if err := r.Read(&a.Data); err != nil {
			return Array{}, fmt.Errorf("%w: %w", ErrNPYFormat, err)
		}
		return a, nil
	}
	wide := make([]float64, n)
	if err := r.Read(&wide); err != nil {
		return Array{}, fmt.Errorf("%w: %w", ErrNPYFormat, err)
	}
	a.Data = make([]float32, n)
	for i, v := range wide {
		a.Data[i] = float32(v)
	}
	return a, nil
}
