// Package pipeline runs the extraction of one patient study: it finds the
// T2W, ADC and DWI series, aligns and resamples them onto a common grid and
// writes the normalized tensors.
package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrsinham/mriprep/internal/dicom"
	"github.com/mrsinham/mriprep/internal/dicom/modalities"
	"github.com/mrsinham/mriprep/internal/manifest"
	"github.com/mrsinham/mriprep/internal/tensor"
	"github.com/mrsinham/mriprep/internal/volume"
)

// ErrClassificationGap is returned when a study lacks one of the three
// required modalities.
var ErrClassificationGap = errors.New("required modality not found")

// Options configures a run.
type Options struct {
	// Input is the patient directory. Its base name is the patient name.
	Input string
	// OutputRoot receives the patient output directory.
	OutputRoot string
	// StatsPath is read when Stats is nil.
	StatsPath string
	Stats     *tensor.Stats

	// TargetBValue zero selects dicom.DefaultTargetBValue.
	TargetBValue int
	Tolerance    float64
	Spacing      volume.Spacing
	Layout       tensor.Layout
	// KeepRaw also writes the resized raw ADC tensor.
	KeepRaw bool

	Classifier *modalities.Classifier
	Logger     *logrus.Logger
	// Manifest, when set, records every run.
	Manifest *manifest.Manifest
}

// Result mirrors the status contract of the extraction service: one status
// code and one message per processed patient.
type Result struct {
	Codes    []int
	Messages []string
}

func (r *Result) add(code int, msg string) {
	r.Codes = append(r.Codes, code)
	r.Messages = append(r.Messages, msg)
}

func (o Options) withDefaults() Options {
	if o.OutputRoot == "" {
		o.OutputRoot = filepath.Join("data", "preprocessed")
	}
	if o.StatsPath == "" {
		o.StatsPath = filepath.Join("data", "stats.json")
	}
	if o.TargetBValue == 0 {
		o.TargetBValue = dicom.DefaultTargetBValue
	}
	if o.Tolerance == 0 {
		o.Tolerance = volume.DefaultTolerance
	}
	if o.Spacing == (volume.Spacing{}) {
		o.Spacing = volume.Spacing{Row: 0.5, Col: 0.5, Slice: 3.0}
	}
	if o.Layout == (tensor.Layout{}) {
		o.Layout = tensor.DefaultLayout()
	}
	if o.Classifier == nil {
		o.Classifier = modalities.NewClassifier(modalities.DefaultNameLists())
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return o
}

// Run extracts one patient. When the patient's output directory already
// exists nothing is done and a success result is returned. On failure the
// output directory is removed before the error is returned.
func Run(opts Options) (Result, error) {
	opts = opts.withDefaults()
	patient := filepath.Base(filepath.Clean(opts.Input))
	out := filepath.Join(opts.OutputRoot, patient)
	log := opts.Logger.WithField("patient", patient)
	started := time.Now()

	var res Result
	if err := os.MkdirAll(opts.OutputRoot, 0755); err != nil {
		return res, fmt.Errorf("create output root: %w", err)
	}
	if err := os.Mkdir(out, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			msg := fmt.Sprintf("patient: '%s' already exists at '%s'.", patient, out)
			log.Info(msg)
			res.add(0, msg)
			opts.record(manifest.Run{Patient: patient, Input: opts.Input, Output: out, Status: manifest.StatusExists, Message: msg, StartedAt: started}, log)
			return res, nil
		}
		return res, fmt.Errorf("create output directory: %w", err)
	}

	log.WithField("input", opts.Input).Info("processing")
	err := extract(opts, out, log)
	if err != nil {
		if rmErr := os.RemoveAll(out); rmErr != nil {
			log.WithError(rmErr).Error("failed to remove partial output")
		}
		opts.record(manifest.Run{
			Patient: patient, Input: opts.Input, Output: out,
			Status: manifest.StatusFailed, Message: err.Error(),
			StartedAt: started, Duration: time.Since(started),
		}, log)
		return res, fmt.Errorf("extract %s: %w", patient, err)
	}

	msg := fmt.Sprintf("'%s' created at '%s'.", patient, out)
	log.WithField("duration", time.Since(started).Round(time.Millisecond)).Info(msg)
	res.add(0, msg)
	opts.record(manifest.Run{
		Patient: patient, Input: opts.Input, Output: out,
		Status: manifest.StatusCreated, Message: msg,
		StartedAt: started, Duration: time.Since(started),
	}, log)
	return res, nil
}

// RunBatch runs every immediate subdirectory of opts.Input as one patient.
// A failing patient gets status 1 and does not stop the batch; the returned
// error joins every failure.
func RunBatch(opts Options) (Result, error) {
	entries, err := os.ReadDir(opts.Input)
	if err != nil {
		return Result{}, fmt.Errorf("read batch directory: %w", err)
	}
	var (
		res  Result
		errs []error
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		one := opts
		one.Input = filepath.Join(opts.Input, e.Name())
		r, err := Run(one)
		if err != nil {
			errs = append(errs, err)
			res.add(1, err.Error())
			continue
		}
		res.Codes = append(res.Codes, r.Codes...)
		res.Messages = append(res.Messages, r.Messages...)
	}
	return res, errors.Join(errs...)
}

func (o Options) record(r manifest.Run, log logrus.FieldLogger) {
	if o.Manifest == nil {
		return
	}
	if _, err := o.Manifest.Record(r); err != nil {
		log.WithError(err).Warn("failed to record run in manifest")
	}
}
