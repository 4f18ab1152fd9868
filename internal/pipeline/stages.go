package pipeline

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mrsinham/mriprep/internal/dicom"
	"github.com/mrsinham/mriprep/internal/dicom/modalities"
	"github.com/mrsinham/mriprep/internal/tensor"
	"github.com/mrsinham/mriprep/internal/volume"
)

// state is threaded through the extraction stages. A stage returns a new
// state and leaves the one it was given untouched.
type state struct {
	stats   tensor.Stats
	series  map[modalities.Modality][]dicom.SeriesDirectory
	volumes volume.Set
	outputs *tensor.Outputs
}

type stage struct {
	name string
	run  func(opts Options, s state, log logrus.FieldLogger) (state, error)
}

var stages = []stage{
	{name: "stats", run: loadStats},
	{name: "classify", run: classify},
	{name: "assemble", run: assemble},
	{name: "align", run: align},
	{name: "crop", run: crop},
	{name: "resample", run: resample},
	{name: "normalize", run: normalize},
}

func extract(opts Options, out string, log logrus.FieldLogger) error {
	var s state
	for _, st := range stages {
		next, err := st.run(opts, s, log)
		if err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
		log.WithField("stage", st.name).Debug("stage complete")
		s = next
	}
	return s.outputs.Write(out, opts.KeepRaw)
}

func loadStats(opts Options, s state, _ logrus.FieldLogger) (state, error) {
	if opts.Stats != nil {
		if err := opts.Stats.Validate(); err != nil {
			return s, err
		}
		s.stats = *opts.Stats
		return s, nil
	}
	stats, err := tensor.LoadStats(opts.StatsPath)
	if err != nil {
		return s, err
	}
	s.stats = stats
	return s, nil
}

func classify(opts Options, s state, log logrus.FieldLogger) (state, error) {
	scanner := &dicom.Scanner{Logger: log}
	found, err := scanner.Scan(opts.Input)
	if err != nil {
		return s, err
	}
	series := make(map[modalities.Modality][]dicom.SeriesDirectory)
	for _, sd := range found {
		m := opts.Classifier.Classify(sd.Description)
		log.WithFields(logrus.Fields{
			"series":   sd.Description,
			"modality": m,
			"files":    len(sd.Files),
		}).Debug("series classified")
		if m == modalities.Unclassified {
			continue
		}
		series[m] = append(series[m], sd)
	}
	for _, m := range modalities.AllModalities() {
		if len(series[m]) == 0 {
			return s, fmt.Errorf("%w: no %s series among %d", ErrClassificationGap, m, len(found))
		}
	}
	s.series = series
	return s, nil
}

func assemble(opts Options, s state, log logrus.FieldLogger) (state, error) {
	loader := &dicom.Loader{Logger: log}

	var set volume.Set
	var err error
	if set.T2W, err = assembleLatest(loader, s.series[modalities.T2W], log); err != nil {
		return s, fmt.Errorf("T2W: %w", err)
	}
	if set.ADC, err = assembleLatest(loader, s.series[modalities.ADC], log); err != nil {
		return s, fmt.Errorf("ADC: %w", err)
	}
	if set.DWI, err = assembleDiffusion(loader, s.series[modalities.DWI], opts.TargetBValue, log); err != nil {
		return s, fmt.Errorf("DWI: %w", err)
	}
	if missing, total := loader.BValueFallbacks(); missing > 0 {
		log.WithField("fallbacks", fmt.Sprintf("%d / %d", missing, total)).Warn("some b-values defaulted to 0")
	}
	s.volumes = set
	return s, nil
}

// assembleLatest builds the volume of the last series of a modality; later
// series supersede earlier ones.
func assembleLatest(loader *dicom.Loader, candidates []dicom.SeriesDirectory, log logrus.FieldLogger) (*volume.Volume, error) {
	sd := candidates[len(candidates)-1]
	slices, err := loader.Load(sd, false)
	if err != nil {
		return nil, err
	}
	return volume.Assemble(slices, log.WithField("series", sd.Description))
}

// assembleDiffusion builds the DWI volume at the b-value closest to target
// from the last candidate series that can be stacked.
func assembleDiffusion(loader *dicom.Loader, candidates []dicom.SeriesDirectory, target int, log logrus.FieldLogger) (*volume.Volume, error) {
	var lastErr error
	for i := len(candidates) - 1; i >= 0; i-- {
		sd := candidates[i]
		slog := log.WithField("series", sd.Description)
		slices, err := loader.Load(sd, true)
		if err != nil {
			return nil, err
		}
		kept, b, err := dicom.FilterBValue(slices, target)
		if err != nil {
			return nil, err
		}
		v, err := volume.Assemble(kept, slog)
		if errors.Is(err, volume.ErrStackingMismatch) {
			slog.WithError(err).Warn("skipping diffusion series that cannot be stacked")
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		slog.WithFields(logrus.Fields{"b": b, "slices": v.Slices}).Info("diffusion series selected")
		return v, nil
	}
	return nil, fmt.Errorf("%w: no stackable DWI series: %w", ErrClassificationGap, lastErr)
}

func align(opts Options, s state, _ logrus.FieldLogger) (state, error) {
	set, err := volume.AlignLayers(s.volumes, opts.Tolerance)
	if err != nil {
		return s, err
	}
	s.volumes = set
	return s, nil
}

func crop(_ Options, s state, _ logrus.FieldLogger) (state, error) {
	set, err := volume.CropToCommonExtent(s.volumes)
	if err != nil {
		return s, err
	}
	s.volumes = set
	return s, nil
}

// resample brings every modality to the canonical spacing, then resamples
// ADC and DWI onto the T2W grid so the three shapes match exactly.
func resample(opts Options, s state, log logrus.FieldLogger) (state, error) {
	var out [3]*volume.Volume
	for i, v := range s.volumes.Volumes() {
		r, err := volume.ResampleToSpacing(v, opts.Spacing)
		if err != nil {
			return s, err
		}
		out[i] = r
	}
	shape := out[0].Shape()
	for i := 1; i < 3; i++ {
		r, err := volume.ResampleToShape(out[i], shape)
		if err != nil {
			return s, err
		}
		out[i] = r
	}
	log.WithField("shape", shape).Debug("resampled to canonical grid")
	s.volumes = volume.Set{T2W: out[0], ADC: out[1], DWI: out[2]}
	return s, nil
}

func normalize(opts Options, s state, _ logrus.FieldLogger) (state, error) {
	prepared := tensor.Prepare(s.volumes, opts.Layout)
	outputs, err := tensor.Build(prepared, s.stats)
	if err != nil {
		return s, err
	}
	s.outputs = outputs
	return s, nil
}
