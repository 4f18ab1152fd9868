package tensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// ErrStatsMissing is returned when the normalization statistics file does
// not exist.
var ErrStatsMissing = errors.New("normalization statistics not found")

// Stats are cohort-level ADC intensity statistics used to clip and
// standardize the ADC channel.
type Stats struct {
	P005 float64 `yaml:"p005" json:"p005"`
	P995 float64 `yaml:"p995" json:"p995"`
	Mean float64 `yaml:"mean" json:"mean"`
	Std  float64 `yaml:"std" json:"std"`
}

// Validate checks that the statistics can be used for standardization.
func (s Stats) Validate() error {
	for _, v := range []float64{s.P005, s.P995, s.Mean, s.Std} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("statistics contain non-finite values: %+v", s)
		}
	}
	if s.Std <= 0 {
		return fmt.Errorf("statistics std must be positive, got %g", s.Std)
	}
	if s.P005 > s.P995 {
		return fmt.Errorf("statistics p005 %g exceeds p995 %g", s.P005, s.P995)
	}
	return nil
}

// LoadStats reads a statistics file. JSON files are accepted since JSON is
// valid YAML.
func LoadStats(path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Stats{}, fmt.Errorf("%w: %s", ErrStatsMissing, path)
	}
	if err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}
	var s Stats
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Stats{}, fmt.Errorf("parse stats %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", path, err)
	}
	return s, nil
}

// SaveStats writes s as JSON.
func SaveStats(path string, s Stats) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// ComputeStats derives statistics from raw ADC voxels: the 0.5th and 99.5th
// percentiles, then the population mean and standard deviation of the
// values clipped to that range.
func ComputeStats(values []float64) (Stats, error) {
	if len(values) == 0 {
		return Stats{}, errors.New("no values to compute statistics from")
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	s := Stats{
		P005: stat.Quantile(0.005, stat.LinInterp, sorted, nil),
		P995: stat.Quantile(0.995, stat.LinInterp, sorted, nil),
	}
	clipped := make([]float64, len(sorted))
	copy(clipped, sorted)
	clip(clipped, s.P005, s.P995)
	s.Mean, s.Std = stat.PopMeanStdDev(clipped, nil)
	if floats.Max(clipped) == floats.Min(clipped) {
		return s, errors.New("values are constant, std is zero")
	}
	return s, nil
}
