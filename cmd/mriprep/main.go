package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	cmd, args := "extract", os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "extract":
		err = runExtract(args)
	case "stats":
		err = runStats(args)
	case "preview":
		err = runPreview(args)
	case "synth":
		err = runSynth(args)
	case "history":
		err = runHistory(args)
	case "version":
		fmt.Printf("mriprep %s\n", version)
	case "help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: mriprep [command] [options]")
	fmt.Println("Run 'mriprep help' for details.")
}

func printHelp() {
	fmt.Println("mriprep - Extract aligned T2W/ADC/DWI tensors from MR DICOM studies")
	fmt.Println()
	printUsage()
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  extract   Process one patient directory (default command)")
	fmt.Println("  stats     Compute ADC normalization statistics from prepared patients")
	fmt.Println("  preview   Render one slice of a tensor as PNG")
	fmt.Println("  synth     Write a synthetic three-series study")
	fmt.Println("  history   List recorded extraction runs")
	fmt.Println("  version   Show version")
	fmt.Println()
	fmt.Println("Extract options:")
	fmt.Println("  --input <DIR>         Patient directory (or first positional argument)")
	fmt.Println("  --batch               Treat --input as a directory of patient directories")
	fmt.Println("  --config <FILE>       YAML configuration (default: mriprep.yaml if present)")
	fmt.Println("  --output-root <DIR>   Root of the per-patient output directories")
	fmt.Println("  --stats <FILE>        ADC statistics file (p005, p995, mean, std)")
	fmt.Println("  --names <FILE>        Override the series name lists")
	fmt.Println("  --manifest <FILE>     Run ledger database ('' disables)")
	fmt.Println("  --keep-raw            Also write adc_raw.npy for statistics")
	fmt.Println("  --save-config <FILE>  Write the effective configuration and continue")
	fmt.Println("  --quiet               Only log warnings and errors")
	fmt.Println("  --verbose             Log every stage")
	fmt.Println("  --log-json            Log as JSON")
	fmt.Println()
	fmt.Println("Output:")
	fmt.Println("  <output-root>/<patient>/whole.npy       (22, 224, 672) min-max scaled")
	fmt.Println("  <output-root>/<patient>/000{0,1,2}.npy  (22, 224, 224) T2W, ADC, DWI")
	fmt.Println("  <output-root>/<patient>/whole_inp.npy   (22, 224, 672) model input")
	fmt.Println()
	fmt.Println("Synth options:")
	fmt.Println("  --output <DIR>        Study directory to create")
	fmt.Println("  --flat                Write all series into one directory")
	fmt.Println("  --csa                 Store DWI b-values in the Siemens CSA header")
	fmt.Println("  --dicomdir            Also write a DICOMDIR index")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Generate a synthetic study and extract it")
	fmt.Println("  mriprep synth --output studies/P001")
	fmt.Println("  mriprep extract --keep-raw studies/P001")
	fmt.Println()
	fmt.Println("  # Build statistics from prepared patients, then preview a result")
	fmt.Println("  mriprep stats --root data/preprocessed --output data/stats.json")
	fmt.Println("  mriprep preview --input data/preprocessed/P001/whole.npy --slice 11 --output p001.png")
}
