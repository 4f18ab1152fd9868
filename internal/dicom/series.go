package dicom

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// Slice is one file of a series with its geometry and decoded frames.
// Frames holds more than one entry only for multi-frame files.
type Slice struct {
	Path string
	Geometry
	BValue int
	Frames []Frame
}

// Loader reads the files of a series. It keeps a running count of files
// whose b-value had to default to 0.
type Loader struct {
	Logger logrus.FieldLogger

	bTotal   int
	bMissing int
}

// BValueFallbacks reports how many files fell back to b=0 out of all files
// whose b-value was resolved.
func (l *Loader) BValueFallbacks() (missing, total int) {
	return l.bMissing, l.bTotal
}

// Load reads every file of a series with pixel data, resolves its geometry
// and, when diffusion is set, its b-value. Slices are returned ordered by
// ascending position; files with equal positions keep their name order.
func (l *Loader) Load(sd SeriesDirectory, diffusion bool) ([]Slice, error) {
	log := l.logger().WithField("series", sd.Description)
	slices := make([]Slice, 0, len(sd.Files))
	for _, f := range sd.Files {
		h, err := ReadFile(f)
		if err != nil {
			return nil, err
		}
		geo, err := ResolveGeometry(h)
		if err != nil {
			return nil, err
		}
		frames, err := h.Frames()
		if err != nil {
			return nil, err
		}
		sl := Slice{Path: f, Geometry: geo, Frames: frames}
		if diffusion {
			b, source, ok := ResolveBValue(h)
			l.bTotal++
			if !ok {
				l.bMissing++
				log.WithFields(logrus.Fields{
					"file":      f,
					"fallbacks": fmt.Sprintf("%d / %d", l.bMissing, l.bTotal),
				}).Warn("b-value not found, assuming 0")
			} else {
				log.WithFields(logrus.Fields{"file": f, "source": source, "b": b}).Debug("b-value resolved")
			}
			sl.BValue = b
		}
		slices = append(slices, sl)
	}
	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].Position < slices[j].Position
	})
	return slices, nil
}

// FilterBValue keeps the slices acquired at the b-value closest to target
// and returns that b-value. Candidates are considered in slice order.
func FilterBValue(slices []Slice, target int) ([]Slice, int, error) {
	values := make([]int, len(slices))
	for i, sl := range slices {
		values[i] = sl.BValue
	}
	b, err := SelectBValue(values, target)
	if err != nil {
		return nil, 0, err
	}
	kept := make([]Slice, 0, len(slices))
	for _, sl := range slices {
		if sl.BValue == b {
			kept = append(kept, sl)
		}
	}
	return kept, b, nil
}

func (l *Loader) logger() logrus.FieldLogger {
	if l.Logger == nil {
		return logrus.StandardLogger()
	}
	return l.Logger
}
