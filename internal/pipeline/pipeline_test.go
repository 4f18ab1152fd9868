package pipeline

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/mrsinham/mriprep/internal/dicom"
	"github.com/mrsinham/mriprep/internal/dicom/synth"
	"github.com/mrsinham/mriprep/internal/manifest"
	"github.com/mrsinham/mriprep/internal/tensor"
	"github.com/mrsinham/mriprep/internal/volume"
)

// minimalStudy is three 64x64 series of five 3 mm slices at 1 mm in-plane
// spacing; the DWI slices carry b-values 0, 1500, 1000, 1500, 0.
func minimalStudy(patient string) synth.Study {
	series := func(descr string, base float64) synth.Series {
		return synth.Series{
			Description:  descr,
			Rows:         64,
			Cols:         64,
			Slices:       5,
			PixelSpacing: [2]float64{1, 1},
			Thickness:    3,
			Base:         base,
		}
	}
	dwi := series("ep2d_diff_b50_500_1000_tra_HBV", 400)
	dwi.SliceBValues = []int{0, 1500, 1000, 1500, 0}
	return synth.Study{
		PatientName: patient,
		Seed:        7,
		Series: []synth.Series{
			series("t2_tse_tra", 900),
			series("ep2d_diff_b50_500_1000_tra_ADC", 1200),
			dwi,
		},
	}
}

func setup(t *testing.T, study synth.Study) (input string, opts Options) {
	t.Helper()
	root := t.TempDir()
	input = filepath.Join(root, "studies", study.PatientName)
	_, err := synth.Write(input, study)
	require.NoError(t, err)

	statsPath := filepath.Join(root, "stats.json")
	require.NoError(t, tensor.SaveStats(statsPath, tensor.Stats{P005: 100, P995: 1500, Mean: 800, Std: 300}))

	logger, _ := test.NewNullLogger()
	return input, Options{
		Input:      input,
		OutputRoot: filepath.Join(root, "preprocessed"),
		StatsPath:  statsPath,
		Logger:     logger,
	}
}

func requireFinite(t *testing.T, a tensor.Array) {
	t.Helper()
	for i, v := range a.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("non-finite value at %d", i)
		}
	}
}

func TestRun_EndToEnd(t *testing.T) {
	_, opts := setup(t, minimalStudy("P001"))

	res, err := Run(opts)
	require.NoError(t, err)
	out := filepath.Join(opts.OutputRoot, "P001")
	require.Equal(t, []int{0}, res.Codes)
	require.Equal(t, []string{"'P001' created at '" + out + "'."}, res.Messages)

	whole, err := tensor.ReadNPY(filepath.Join(out, tensor.WholeFile))
	require.NoError(t, err)
	require.Equal(t, []int{22, 224, 672}, whole.Shape)
	requireFinite(t, whole)
	for i, v := range whole.Data {
		if v < 0 || v > 1 {
			t.Fatalf("whole tensor value %g at %d outside [0, 1]", v, i)
		}
	}

	for ch := 0; ch < 3; ch++ {
		a, err := tensor.ReadNPY(filepath.Join(out, tensor.ChannelFile(ch)))
		require.NoError(t, err)
		require.Equal(t, []int{22, 224, 224}, a.Shape)
		requireFinite(t, a)
	}

	inp, err := tensor.ReadNPY(filepath.Join(out, tensor.InputFile))
	require.NoError(t, err)
	require.Equal(t, []int{22, 224, 672}, inp.Shape)
	requireFinite(t, inp)

	_, err = os.Stat(filepath.Join(out, tensor.ADCRawFile))
	require.True(t, errors.Is(err, os.ErrNotExist), "raw ADC is only written on request")
	t.Logf("✓ Wrote tensors for P001 in %s", out)
}

func TestRun_Idempotent(t *testing.T) {
	_, opts := setup(t, minimalStudy("P002"))

	_, err := Run(opts)
	require.NoError(t, err)
	out := filepath.Join(opts.OutputRoot, "P002")
	before, err := os.ReadFile(filepath.Join(out, tensor.InputFile))
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(out, tensor.InputFile))
	require.NoError(t, err)

	res, err := Run(opts)
	require.NoError(t, err)
	require.Equal(t, []int{0}, res.Codes)
	require.Equal(t, []string{"patient: 'P002' already exists at '" + out + "'."}, res.Messages)

	after, err := os.ReadFile(filepath.Join(out, tensor.InputFile))
	require.NoError(t, err)
	require.Equal(t, before, after)
	info2, err := os.Stat(filepath.Join(out, tensor.InputFile))
	require.NoError(t, err)
	require.Equal(t, info.ModTime(), info2.ModTime())
}

func TestRun_MissingDWI(t *testing.T) {
	study := minimalStudy("P003")
	study.Series = study.Series[:2]
	_, opts := setup(t, study)

	_, err := Run(opts)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrClassificationGap), "got %v", err)

	_, statErr := os.Stat(filepath.Join(opts.OutputRoot, "P003"))
	require.True(t, errors.Is(statErr, os.ErrNotExist), "output directory must be removed")
}

func TestRun_MissingStats(t *testing.T) {
	_, opts := setup(t, minimalStudy("P004"))
	opts.StatsPath = filepath.Join(t.TempDir(), "absent.json")

	_, err := Run(opts)
	require.True(t, errors.Is(err, tensor.ErrStatsMissing), "got %v", err)
	_, statErr := os.Stat(filepath.Join(opts.OutputRoot, "P004"))
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestRun_FlatLayoutWithCSA(t *testing.T) {
	study := minimalStudy("P005")
	study.Flat = true
	study.Series[2].Encoding = synth.SiemensCSA
	study.Series[0].Nested = true
	_, opts := setup(t, study)
	opts.KeepRaw = true

	_, err := Run(opts)
	require.NoError(t, err)

	raw, err := tensor.ReadNPY(filepath.Join(opts.OutputRoot, "P005", tensor.ADCRawFile))
	require.NoError(t, err)
	require.Equal(t, []int{22, 224, 224}, raw.Shape)
}

func TestRun_BValueFallbackWarning(t *testing.T) {
	study := minimalStudy("P006")
	study.Series[2].Encoding = synth.NoBValue
	_, opts := setup(t, study)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts.Logger = logger

	_, err := Run(opts)
	require.NoError(t, err)

	var fallback *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "some b-values defaulted to 0" {
			fallback = e
		}
	}
	require.NotNil(t, fallback)
	require.Equal(t, "5 / 5", fallback.Data["fallbacks"])
}

func TestRun_Manifest(t *testing.T) {
	_, opts := setup(t, minimalStudy("P007"))
	m, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer m.Close()
	opts.Manifest = m

	_, err = Run(opts)
	require.NoError(t, err)
	_, err = Run(opts)
	require.NoError(t, err)

	runs, err := m.Runs("P007", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	statuses := map[string]bool{runs[0].Status: true, runs[1].Status: true}
	require.True(t, statuses[manifest.StatusCreated])
	require.True(t, statuses[manifest.StatusExists])
	for _, r := range runs {
		require.WithinDuration(t, time.Now(), r.StartedAt, time.Minute)
	}
}

func TestRunBatch(t *testing.T) {
	_, opts := setup(t, minimalStudy("A001"))
	batchRoot := filepath.Dir(opts.Input)

	broken := minimalStudy("B002")
	broken.Series = broken.Series[:1]
	_, err := synth.Write(filepath.Join(batchRoot, "B002"), broken)
	require.NoError(t, err)

	opts.Input = batchRoot
	res, err := RunBatch(opts)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrClassificationGap))
	require.Equal(t, []int{0, 1}, res.Codes)
	require.Len(t, res.Messages, 2)

	_, statErr := os.Stat(filepath.Join(opts.OutputRoot, "A001", tensor.WholeFile))
	require.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(opts.OutputRoot, "B002"))
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

// diffusionSeries writes one DWI series of the given matrix size with every
// slice at b=1500 and returns it as a scanned series directory.
func diffusionSeries(t *testing.T, dir string, size, slices int, origin float64) dicom.SeriesDirectory {
	t.Helper()
	bvalues := make([]int, slices)
	for i := range bvalues {
		bvalues[i] = 1500
	}
	study := synth.Study{
		PatientName: "DWI",
		Seed:        11,
		Flat:        true,
		Series: []synth.Series{{
			Description:  "ep2d_diff_b50_500_1000_tra_HBV",
			Rows:         size,
			Cols:         size,
			Slices:       slices,
			PixelSpacing: [2]float64{1, 1},
			Thickness:    3,
			Origin:       origin,
			SliceBValues: bvalues,
			Base:         400,
		}},
	}
	paths, err := synth.Write(dir, study)
	require.NoError(t, err)
	return dicom.SeriesDirectory{Path: dir, Files: paths, Description: study.Series[0].Description}
}

func TestAssembleDiffusion_SkipsRaggedCandidate(t *testing.T) {
	root := t.TempDir()
	good := diffusionSeries(t, filepath.Join(root, "good"), 64, 2, 0)
	ragged := diffusionSeries(t, filepath.Join(root, "ragged64"), 64, 1, 0)
	small := diffusionSeries(t, filepath.Join(root, "ragged48"), 48, 1, 3)
	ragged.Files = append(ragged.Files, small.Files...)

	logger, hook := test.NewNullLogger()
	v, err := assembleDiffusion(&dicom.Loader{Logger: logger}, []dicom.SeriesDirectory{good, ragged}, 1500, logger)
	require.NoError(t, err)
	require.Equal(t, [3]int{64, 64, 2}, v.Shape())

	var skipped *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "skipping diffusion series that cannot be stacked" {
			skipped = e
		}
	}
	require.NotNil(t, skipped)
	require.Equal(t, logrus.WarnLevel, skipped.Level)

	_, err = assembleDiffusion(&dicom.Loader{Logger: logger}, []dicom.SeriesDirectory{ragged}, 1500, logger)
	require.ErrorIs(t, err, ErrClassificationGap)
	require.ErrorIs(t, err, volume.ErrStackingMismatch)
}
