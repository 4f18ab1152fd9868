// Package modalities classifies MR series into the three sequences the
// preprocessing pipeline consumes.
package modalities

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Modality represents the role a series plays in the pipeline.
type Modality string

const (
	T2W          Modality = "T2W"          // T2-weighted
	ADC          Modality = "ADC"          // Apparent diffusion coefficient map
	DWI          Modality = "DWI"          // Diffusion weighted, high b-value
	Unclassified Modality = "UNCLASSIFIED" // Anything else in the study
)

// AllModalities returns the target modalities in output channel order.
func AllModalities() []Modality {
	return []Modality{T2W, ADC, DWI}
}

// Channel returns the output channel index of the modality, or -1.
func (m Modality) Channel() int {
	for i, target := range AllModalities() {
		if m == target {
			return i
		}
	}
	return -1
}

// IsValid checks if a modality string names one of the target modalities.
func IsValid(m string) bool {
	return Modality(m).Channel() >= 0
}

//go:embed names.yaml
var defaultNamesYAML []byte

// NameLists holds the series descriptions that identify a modality by exact
// match. Lists are configuration data and are compared case-insensitively.
type NameLists struct {
	Version int      `yaml:"version"`
	T2W     []string `yaml:"t2w"`
	ADC     []string `yaml:"adc"`
	DWI     []string `yaml:"dwi"`
}

// DefaultNameLists returns the name lists shipped with the binary.
func DefaultNameLists() NameLists {
	lists, err := parseNameLists(defaultNamesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded names.yaml is invalid: %v", err))
	}
	return lists
}

// LoadNameLists reads name lists from a YAML file.
func LoadNameLists(path string) (NameLists, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NameLists{}, fmt.Errorf("read name lists: %w", err)
	}
	return parseNameLists(data)
}

func parseNameLists(data []byte) (NameLists, error) {
	var lists NameLists
	if err := yaml.Unmarshal(data, &lists); err != nil {
		return NameLists{}, fmt.Errorf("parse name lists: %w", err)
	}
	if lists.Version <= 0 {
		return NameLists{}, fmt.Errorf("name lists must declare a positive version")
	}
	return lists, nil
}

// nameSet is an uppercased lookup set built from a name list.
type nameSet map[string]struct{}

func newNameSet(names []string) nameSet {
	set := make(nameSet, len(names))
	for _, n := range names {
		set[strings.ToUpper(n)] = struct{}{}
	}
	return set
}

func (s nameSet) has(descr string) bool {
	_, ok := s[descr]
	return ok
}
