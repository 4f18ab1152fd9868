package modalities

import "strings"

// Rule labels a series when its predicate accepts the uppercased description.
type Rule struct {
	Name     string
	Label    Modality
	Accepted func(descr string) bool
}

// Classifier evaluates an ordered rule table; the first accepting rule wins.
type Classifier struct {
	rules []Rule
	lists NameLists
}

// NewClassifier builds the rule table for the given name lists.
func NewClassifier(lists NameLists) *Classifier {
	t2wNames := newNameSet(lists.T2W)
	adcNames := newNameSet(lists.ADC)
	dwiNames := newNameSet(lists.DWI)

	rules := []Rule{
		{
			Name:  "t2w",
			Label: T2W,
			Accepted: func(d string) bool {
				return (strings.Contains(d, "T2") && !strings.Contains(d, "COR") && !strings.Contains(d, "SAG")) ||
					t2wNames.has(d)
			},
		},
		{
			Name:  "adc",
			Label: ADC,
			Accepted: func(d string) bool {
				named := strings.Contains(d, "ADC") ||
					strings.Contains(d, "APPARENT DIFFUSION COEFFICIENT") ||
					adcNames.has(d)
				return named && !strings.Contains(d, "EADC") && !dwiNames.has(d)
			},
		},
		{
			Name:  "dwi",
			Label: DWI,
			Accepted: func(d string) bool {
				named := strings.Contains(d, "BVAL") ||
					strings.Contains(d, "TRACE") ||
					strings.Contains(d, "DWI") ||
					dwiNames.has(d)
				return named && !adcNames.has(d)
			},
		},
	}
	return &Classifier{rules: rules, lists: lists}
}

// Rules returns the rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// NameLists returns the lists the classifier was built from.
func (c *Classifier) NameLists() NameLists {
	return c.lists
}

// Classify labels a series description. Empty descriptions are unclassified.
func (c *Classifier) Classify(description string) Modality {
	descr := strings.ToUpper(strings.TrimSpace(description))
	if descr == "" {
		return Unclassified
	}
	for _, r := range c.rules {
		if r.Accepted(descr) {
			return r.Label
		}
	}
	return Unclassified
}

var defaultClassifier = NewClassifier(DefaultNameLists())

// Classify labels a description with the built-in name lists.
func Classify(description string) Modality {
	return defaultClassifier.Classify(description)
}
