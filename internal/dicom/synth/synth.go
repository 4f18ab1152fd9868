// Package synth writes small synthetic MR studies: a T2-weighted series, an
// ADC map and a multi-b-value diffusion series sharing one frame of
// reference. The studies exercise the extraction pipeline end to end.
package synth

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/big"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/mriprep/internal/dicom/csa"
)

// BValueEncoding selects where a diffusion series stores its b-values.
type BValueEncoding int

const (
	// StandardTag writes DiffusionBValue (0018,9087).
	StandardTag BValueEncoding = iota
	// SiemensCSA writes B_value into the Siemens CSA image header (0029,1010).
	SiemensCSA
	// SiemensPrivate writes the Siemens (0019,100C) element.
	SiemensPrivate
	// NoBValue writes no b-value at all.
	NoBValue
)

// Series describes one synthetic series. Diffusion series repeat every
// slice position once per entry of BValues.
type Series struct {
	Description  string
	Rows         int
	Cols         int
	Slices       int
	PixelSpacing [2]float64
	Thickness    float64
	// Origin is the position of the first slice; slices are spaced by
	// Thickness.
	Origin  float64
	BValues []int
	// SliceBValues gives each slice its own b-value instead of repeating
	// every slice for each entry of BValues.
	SliceBValues []int
	Encoding     BValueEncoding
	// Nested stores ImagePositionPatient only inside a per-frame functional
	// group sequence and omits SliceLocation.
	Nested bool
	// Base is the mean intensity of the series.
	Base float64
	// Signed stores pixels as two's complement (PixelRepresentation 1),
	// shifted down by the series intensity so they straddle zero.
	Signed bool
}

// Study is a synthetic patient study.
type Study struct {
	PatientName string
	Series      []Series
	// Flat writes every file into the study directory instead of one
	// subdirectory per series.
	Flat bool
	// Index also writes a DICOMDIR at the study root.
	Index bool
	Seed  uint64
}

// DefaultStudy returns a prostate-like study with the three series the
// extraction pipeline needs.
func DefaultStudy(patient string) Study {
	return Study{
		PatientName: patient,
		Seed:        42,
		Series: []Series{
			{
				Description:  "t2_tse_tra",
				Rows:         64,
				Cols:         64,
				Slices:       12,
				PixelSpacing: [2]float64{0.625, 0.625},
				Thickness:    3.0,
				Origin:       -18,
				Base:         900,
			},
			{
				Description:  "ep2d_diff_b50_500_1000_tra_ADC",
				Rows:         32,
				Cols:         32,
				Slices:       12,
				PixelSpacing: [2]float64{1.25, 1.25},
				Thickness:    3.0,
				Origin:       -18,
				Base:         1400,
			},
			{
				Description:  "ep2d_diff_b50_500_1000_tra_HBV",
				Rows:         32,
				Cols:         32,
				Slices:       12,
				PixelSpacing: [2]float64{1.25, 1.25},
				Thickness:    3.0,
				Origin:       -18,
				BValues:      []int{50, 1000, 1500},
				Base:         300,
			},
		},
	}
}

// Write writes the study below dir and returns the paths of all files.
func Write(dir string, study Study) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	studyUID := newUID()
	frameOfReferenceUID := newUID()

	var (
		paths   []string
		catalog []indexedSeries
	)
	index := 0
	for seriesNum, s := range study.Series {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("series %d: %w", seriesNum+1, err)
		}
		seriesDir := dir
		if !study.Flat {
			seriesDir = filepath.Join(dir, fmt.Sprintf("%03d_%s", seriesNum+1, sanitize(s.Description)))
			if err := os.MkdirAll(seriesDir, 0755); err != nil {
				return nil, fmt.Errorf("create series directory: %w", err)
			}
		}
		seriesUID := newUID()
		indexed := indexedSeries{uid: seriesUID, number: seriesNum + 1}

		instance := 1
		for _, acq := range s.acquisitions() {
			index++
			img := image{
				series:     s,
				seriesNum:  seriesNum + 1,
				instance:   instance,
				slice:      acq.slice,
				bValue:     acq.b,
				patient:    study.PatientName,
				studyUID:   studyUID,
				seriesUID:  seriesUID,
				frameOfRef: frameOfReferenceUID,
				sopUID:     newUID(),
				seed:       pixelSeed(study.Seed, seriesNum, acq.slice, acq.b),
			}
			path := filepath.Join(seriesDir, fmt.Sprintf("IMG%04d.dcm", index))
			if err := img.write(path); err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			paths = append(paths, path)
			indexed.images = append(indexed.images, indexedImage{path: path, sopUID: img.sopUID})
			instance++
		}
		catalog = append(catalog, indexed)
	}
	if study.Index {
		if err := writeIndex(dir, study.PatientName, studyUID, catalog); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

type acquisition struct {
	slice int
	// b is -1 for non-diffusion images.
	b int
}

func (s Series) acquisitions() []acquisition {
	var acqs []acquisition
	switch {
	case len(s.SliceBValues) > 0:
		for slice, b := range s.SliceBValues {
			acqs = append(acqs, acquisition{slice: slice, b: b})
		}
	case len(s.BValues) > 0:
		for _, b := range s.BValues {
			for slice := 0; slice < s.Slices; slice++ {
				acqs = append(acqs, acquisition{slice: slice, b: b})
			}
		}
	default:
		for slice := 0; slice < s.Slices; slice++ {
			acqs = append(acqs, acquisition{slice: slice, b: -1})
		}
	}
	return acqs
}

func (s Series) validate() error {
	switch {
	case len(s.SliceBValues) > 0 && len(s.SliceBValues) != s.Slices:
		return fmt.Errorf("%d slice b-values for %d slices", len(s.SliceBValues), s.Slices)
	case s.Rows <= 0 || s.Cols <= 0:
		return fmt.Errorf("invalid matrix %dx%d", s.Rows, s.Cols)
	case s.Slices <= 0:
		return fmt.Errorf("invalid slice count %d", s.Slices)
	case s.PixelSpacing[0] <= 0 || s.PixelSpacing[1] <= 0 || s.Thickness <= 0:
		return fmt.Errorf("invalid spacing %v x %g", s.PixelSpacing, s.Thickness)
	}
	return nil
}

type image struct {
	series     Series
	seriesNum  int
	instance   int
	slice      int
	bValue     int
	patient    string
	studyUID   string
	seriesUID  string
	frameOfRef string
	sopUID     string
	seed       uint64
}

func (img image) write(path string) error {
	s := img.series
	position := s.Origin + float64(img.slice)*s.Thickness
	imagePositionPatient := []string{"0.000000", "0.000000", fmt.Sprintf("%.6f", position)}

	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{explicitVRLittle}),
		mustNewElement(tag.PatientName, []string{img.patient}),
		mustNewElement(tag.PatientID, []string{sanitize(img.patient)}),
		mustNewElement(tag.StudyInstanceUID, []string{img.studyUID}),
		mustNewElement(tag.SeriesInstanceUID, []string{img.seriesUID}),
		mustNewElement(tag.SeriesNumber, []string{fmt.Sprintf("%d", img.seriesNum)}),
		mustNewElement(tag.SeriesDescription, []string{s.Description}),
		mustNewElement(tag.Modality, []string{"MR"}),
		mustNewElement(tag.SOPInstanceUID, []string{img.sopUID}),
		mustNewElement(tag.SOPClassUID, []string{mrImageStorage}),
		mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", img.instance)}),
		mustNewElement(tag.FrameOfReferenceUID, []string{img.frameOfRef}),
		mustNewElement(tag.PixelSpacing, []string{
			fmt.Sprintf("%.6f", s.PixelSpacing[0]),
			fmt.Sprintf("%.6f", s.PixelSpacing[1]),
		}),
		mustNewElement(tag.SliceThickness, []string{fmt.Sprintf("%.6f", s.Thickness)}),
		mustNewElement(tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"}),
		mustNewElement(tag.Rows, []int{s.Rows}),
		mustNewElement(tag.Columns, []int{s.Cols}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{16}),
		mustNewElement(tag.HighBit, []int{15}),
		mustNewElement(tag.PixelRepresentation, []int{pixelRepresentation(s.Signed)}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	}

	if s.Nested {
		plane := []*dicom.Element{mustNewElement(tag.ImagePositionPatient, imagePositionPatient)}
		group := []*dicom.Element{mustNewElement(tag.PlanePositionSequence, [][]*dicom.Element{plane})}
		elements = append(elements, mustNewElement(tag.PerFrameFunctionalGroupsSequence, [][]*dicom.Element{group}))
	} else {
		elements = append(elements,
			mustNewElement(tag.ImagePositionPatient, imagePositionPatient),
			mustNewElement(tag.SliceLocation, []string{fmt.Sprintf("%.6f", position)}),
		)
	}

	var writeOpts []dicom.WriteOption
	if img.bValue >= 0 {
		diffusion, private := bValueElements(s.Encoding, img.bValue)
		elements = append(elements, diffusion...)
		if private {
			writeOpts = []dicom.WriteOption{dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()}
		}
	}

	elements = append(elements, mustNewElement(tag.PixelData, img.pixels()))

	// Private groups must be written in tag order with the standard ones.
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Tag.Group != elements[j].Tag.Group {
			return elements[i].Tag.Group < elements[j].Tag.Group
		}
		return elements[i].Tag.Element < elements[j].Tag.Element
	})

	return writeDatasetToFile(path, dicom.Dataset{Elements: elements}, writeOpts...)
}

// bValueElements returns the elements carrying b and whether any of them is
// private.
func bValueElements(enc BValueEncoding, b int) ([]*dicom.Element, bool) {
	switch enc {
	case SiemensCSA:
		header := csa.Build([]csa.Element{
			{Name: "NumberOfImagesInMosaic", VM: 1, VR: "IS", SyngoDT: 6, NumItems: 1, Values: []string{"1"}},
			{Name: "B_value", VM: 1, VR: "IS", SyngoDT: 6, NumItems: 1, Values: []string{fmt.Sprintf("%d", b)}},
			{Name: "DiffusionGradientDirection", VM: 3, VR: "FD", SyngoDT: 3, NumItems: 3, Values: []string{"0.0", "0.0", "1.0"}},
		})
		return []*dicom.Element{
			mustNewPrivateElement(tag.Tag{Group: 0x0029, Element: 0x0010}, "LO", []string{"SIEMENS CSA HEADER"}),
			mustNewPrivateElement(tag.Tag{Group: 0x0029, Element: 0x1010}, "OB", header),
		}, true
	case SiemensPrivate:
		return []*dicom.Element{
			mustNewPrivateElement(tag.Tag{Group: 0x0019, Element: 0x0010}, "LO", []string{"SIEMENS MR HEADER"}),
			mustNewPrivateElement(tag.Tag{Group: 0x0019, Element: 0x100C}, "IS", []string{fmt.Sprintf("%d", b)}),
		}, true
	case NoBValue:
		return nil, false
	default:
		return []*dicom.Element{
			mustNewElement(tag.Tag{Group: 0x0018, Element: 0x9087}, []float64{float64(b)}),
		}, false
	}
}

// pixels renders a radial blob with seeded noise, attenuated by the b-value
// for diffusion images.
func (img image) pixels() dicom.PixelDataInfo {
	s := img.series
	rng := randv2.New(randv2.NewPCG(img.seed, img.seed))
	nativeFrame := frame.NewNativeFrame[uint16](16, s.Rows, s.Cols, s.Rows*s.Cols, 1)

	base := s.Base
	if img.bValue > 0 {
		base *= math.Exp(-float64(img.bValue) * 0.0007)
	}
	centerX, centerY := float64(s.Cols)/2, float64(s.Rows)/2
	maxDist := math.Sqrt(centerX*centerX + centerY*centerY)
	for y := 0; y < s.Rows; y++ {
		for x := 0; x < s.Cols; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			normalizedDist := math.Sqrt(dx*dx+dy*dy) / maxDist
			intensity := base*(1.2-normalizedDist) + (rng.Float64()-0.5)*base*0.1
			if s.Signed {
				v := int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, intensity-base)))
				nativeFrame.RawData[y*s.Cols+x] = uint16(v)
				continue
			}
			nativeFrame.RawData[y*s.Cols+x] = uint16(math.Max(0, math.Min(65535, intensity)))
		}
	}
	return dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: nativeFrame}},
	}
}

func pixelRepresentation(signed bool) int {
	if signed {
		return 1
	}
	return 0
}

func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds, opts...)
}

func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

func mustNewPrivateElement(t tag.Tag, rawVR string, data any) *dicom.Element {
	value, err := dicom.NewValue(data)
	if err != nil {
		panic(fmt.Sprintf("failed to create value for private element %v: %v", t, err))
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}
}

// newUID returns a UUID-derived UID under the 2.25 root.
func newUID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}

func pixelSeed(seed uint64, series, slice, b int) uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d_series_%d_slice_%d_b_%d", seed, series, slice, b)
	return h.Sum64()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
