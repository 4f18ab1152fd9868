package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/mrsinham/mriprep/internal/config"
	"github.com/mrsinham/mriprep/internal/dicom/modalities"
	"github.com/mrsinham/mriprep/internal/dicom/synth"
	"github.com/mrsinham/mriprep/internal/manifest"
	"github.com/mrsinham/mriprep/internal/pipeline"
	"github.com/mrsinham/mriprep/internal/preview"
	"github.com/mrsinham/mriprep/internal/tensor"
)

const defaultConfigFile = "mriprep.yaml"

func newLogger(quiet, verbose, json bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	switch {
	case quiet:
		logger.SetLevel(logrus.WarnLevel)
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	}
	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	input := fs.String("input", "", "Patient directory")
	batch := fs.Bool("batch", false, "Process every subdirectory of --input as a patient")
	configFile := fs.String("config", defaultConfigFile, "YAML configuration file")
	outputRoot := fs.String("output-root", "", "Output root directory")
	statsPath := fs.String("stats", "", "ADC statistics file")
	namesPath := fs.String("names", "", "Series name lists YAML file")
	manifestPath := fs.String("manifest", "", "Run ledger database ('' keeps the configured one)")
	noManifest := fs.Bool("no-manifest", false, "Do not record the run")
	keepRaw := fs.Bool("keep-raw", false, "Also write adc_raw.npy")
	saveConfig := fs.String("save-config", "", "Write the effective configuration to this file")
	quiet := fs.Bool("quiet", false, "Only log warnings and errors")
	verbose := fs.Bool("verbose", false, "Log every stage")
	logJSON := fs.Bool("log-json", false, "Log as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" && fs.NArg() > 0 {
		*input = fs.Arg(0)
	}
	if *input == "" {
		return errors.New("--input is required")
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		return err
	}
	if *outputRoot != "" {
		cfg.OutputRoot = *outputRoot
	}
	if *statsPath != "" {
		cfg.StatsPath = *statsPath
	}
	if *namesPath != "" {
		cfg.NameListsPath = *namesPath
	}
	if *manifestPath != "" {
		cfg.ManifestPath = *manifestPath
	}
	if *noManifest {
		cfg.ManifestPath = ""
	}
	if *keepRaw {
		cfg.KeepRaw = true
	}
	if *saveConfig != "" {
		if err := config.SaveConfig(cfg, *saveConfig); err != nil {
			return err
		}
	}

	logger := newLogger(*quiet, *verbose, *logJSON)
	opts := pipeline.Options{
		Input:        *input,
		OutputRoot:   cfg.OutputRoot,
		StatsPath:    cfg.StatsPath,
		TargetBValue: cfg.TargetBValue,
		Tolerance:    cfg.Tolerance,
		Spacing:      cfg.Spacing,
		Layout:       cfg.Layout,
		KeepRaw:      cfg.KeepRaw,
		Logger:       logger,
	}
	if cfg.NameListsPath != "" {
		lists, err := modalities.LoadNameLists(cfg.NameListsPath)
		if err != nil {
			return err
		}
		opts.Classifier = modalities.NewClassifier(lists)
	}
	if cfg.ManifestPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ManifestPath), 0755); err != nil {
			return fmt.Errorf("create manifest directory: %w", err)
		}
		m, err := manifest.Open(cfg.ManifestPath)
		if err != nil {
			return err
		}
		defer m.Close()
		opts.Manifest = m
	}

	run := pipeline.Run
	if *batch {
		run = pipeline.RunBatch
	}
	res, err := run(opts)
	failed := 0
	for i, msg := range res.Messages {
		if res.Codes[i] != 0 {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s\n", msg)
			continue
		}
		fmt.Println(msg)
	}
	if *batch && err != nil {
		return fmt.Errorf("%d of %d patients failed", failed, len(res.Codes))
	}
	return err
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	root := fs.String("root", filepath.Join("data", "preprocessed"), "Directory of prepared patients")
	output := fs.String("output", filepath.Join("data", "stats.json"), "Statistics file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	paths, err := filepath.Glob(filepath.Join(*root, "*", tensor.ADCRawFile))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no %s found under %s (run extract with --keep-raw)", tensor.ADCRawFile, *root)
	}
	sort.Strings(paths)

	var values []float64
	for _, p := range paths {
		a, err := tensor.ReadNPY(p)
		if err != nil {
			return err
		}
		for _, v := range a.Data {
			values = append(values, float64(v))
		}
	}
	stats, err := tensor.ComputeStats(values)
	if err != nil {
		return err
	}
	if err := tensor.SaveStats(*output, stats); err != nil {
		return err
	}
	fmt.Printf("✓ Statistics from %d patients written to %s\n", len(paths), *output)
	fmt.Printf("  p005=%.4f p995=%.4f mean=%.4f std=%.4f\n", stats.P005, stats.P995, stats.Mean, stats.Std)
	return nil
}

func runPreview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	input := fs.String("input", "", "Tensor file (whole.npy or whole_inp.npy)")
	output := fs.String("output", "preview.png", "PNG file to write")
	slice := fs.Int("slice", 0, "Slice index")
	scale := fs.Int("scale", 2, "Upscaling factor")
	noLabels := fs.Bool("no-labels", false, "Do not draw modality labels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return errors.New("--input is required")
	}

	a, err := tensor.ReadNPY(*input)
	if err != nil {
		return err
	}
	opts := preview.Options{Slice: *slice, Scale: *scale, Panels: 3, Labels: preview.DefaultLabels}
	if *noLabels {
		opts.Labels = nil
	}
	img, err := preview.Render(a, opts)
	if err != nil {
		return err
	}
	if err := preview.WritePNG(*output, img); err != nil {
		return err
	}
	fmt.Printf("✓ Preview written to %s\n", *output)
	return nil
}

func runSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	output := fs.String("output", "synthetic_study", "Study directory to create")
	patient := fs.String("patient", "", "Patient name (default: output directory name)")
	flat := fs.Bool("flat", false, "Write all series into one directory")
	csaFlag := fs.Bool("csa", false, "Store DWI b-values in the Siemens CSA header")
	index := fs.Bool("dicomdir", false, "Also write a DICOMDIR index")
	seed := fs.Uint64("seed", 42, "Pixel noise seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := *patient
	if name == "" {
		name = filepath.Base(filepath.Clean(*output))
	}

	study := synth.DefaultStudy(name)
	study.Flat = *flat
	study.Index = *index
	study.Seed = *seed
	if *csaFlag {
		for i := range study.Series {
			if len(study.Series[i].BValues) > 0 {
				study.Series[i].Encoding = synth.SiemensCSA
			}
		}
	}
	paths, err := synth.Write(*output, study)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Wrote %d files for %s to %s\n", len(paths), name, *output)
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configFile := fs.String("config", defaultConfigFile, "YAML configuration file")
	manifestPath := fs.String("manifest", "", "Run ledger database")
	patient := fs.String("patient", "", "Only show this patient")
	limit := fs.Int("limit", 20, "Maximum number of runs (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *manifestPath
	if path == "" {
		cfg, err := config.LoadConfig(*configFile)
		if err != nil {
			return err
		}
		path = cfg.ManifestPath
	}
	if path == "" {
		return errors.New("no manifest configured")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("manifest %s: %w", path, err)
	}

	m, err := manifest.Open(path)
	if err != nil {
		return err
	}
	defer m.Close()
	runs, err := m.Runs(*patient, *limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-8s %-20s %8s  %s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.Patient, r.Duration, r.Message)
	}
	return nil
}
