package modalities

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		descr string
		want  Modality
	}{
		{"t2_tse_tra", T2W},
		{"T2 TSE AX", T2W},
		{"t2_tse_cor", Unclassified},
		{"T2_SAG", Unclassified},
		{"ep2d_diff_b50_500_1000_tra_ADC", ADC},
		{"Apparent Diffusion Coefficient (mm2/s)", ADC},
		{"eADC", Unclassified},
		{"ep2d_diff_eADC_calc", Unclassified},
		{"eDWI 0/500/1000 SENSE", ADC},
		{"ep2d_diff_b50_500_1000_1500", DWI},
		{"DWI TRACE", DWI},
		{"diff_bval_1400", DWI},
		{"ep2d_diff_tra_TRACEW", DWI},
		{"localizer", Unclassified},
		{"", Unclassified},
		{"   ", Unclassified},
	}

	for _, tt := range tests {
		t.Run(tt.descr, func(t *testing.T) {
			if got := Classify(tt.descr); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.descr, got, tt.want)
			}
		})
	}
}

func TestClassify_NameListsAreExclusive(t *testing.T) {
	lists := DefaultNameLists()
	c := NewClassifier(lists)

	for _, name := range lists.ADC {
		if got := c.Classify(name); got != ADC {
			t.Errorf("ADC list entry %q classified as %v", name, got)
		}
	}
	for _, name := range lists.DWI {
		if got := c.Classify(name); got != DWI {
			t.Errorf("DWI list entry %q classified as %v", name, got)
		}
	}
	for _, name := range lists.T2W {
		if got := c.Classify(name); got != T2W {
			t.Errorf("T2W list entry %q classified as %v", name, got)
		}
	}
}

func TestRules_CrossListExclusion(t *testing.T) {
	lists := DefaultNameLists()
	c := NewClassifier(lists)
	rules := map[string]Rule{}
	for _, r := range c.Rules() {
		rules[r.Name] = r
	}

	// Every rule is evaluated on its own so precedence cannot hide a conflict.
	for _, name := range lists.DWI {
		if rules["adc"].Accepted(strings.ToUpper(name)) {
			t.Errorf("adc rule accepts DWI name %q", name)
		}
	}
	for _, name := range lists.ADC {
		if rules["dwi"].Accepted(strings.ToUpper(name)) {
			t.Errorf("dwi rule accepts ADC name %q", name)
		}
	}
	for _, descr := range []string{"EADC", "DWI_EADC", "EADC MAP"} {
		if rules["adc"].Accepted(descr) {
			t.Errorf("adc rule accepts %q", descr)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	inputs := []string{"T2 ADC", "DWI ADC", "TRACE T2 COR", "ep2d_diff_b50_500_1000_tra_HBV"}
	for _, in := range inputs {
		first := Classify(in)
		for i := 0; i < 10; i++ {
			if got := Classify(in); got != first {
				t.Fatalf("Classify(%q) changed from %v to %v", in, first, got)
			}
		}
	}
	if Classify("T2 ADC") != T2W {
		t.Error("T2 rule should take precedence over ADC")
	}
	if Classify("DWI ADC") != ADC {
		t.Error("ADC rule should take precedence over DWI")
	}
}

func TestDefaultNameLists(t *testing.T) {
	lists := DefaultNameLists()
	if lists.Version != 1 {
		t.Errorf("Version = %d, want 1", lists.Version)
	}
	if len(lists.ADC) != 5 {
		t.Errorf("expected 5 ADC names, got %d", len(lists.ADC))
	}
	if len(lists.DWI) != 9 {
		t.Errorf("expected 9 DWI names, got %d", len(lists.DWI))
	}
}

func TestLoadNameLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.yaml")
	content := "version: 2\nt2w: [prostate_t2_axial]\nadc: [vendor_adc_map]\ndwi: [vendor_high_b]\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	lists, err := LoadNameLists(path)
	if err != nil {
		t.Fatalf("LoadNameLists failed: %v", err)
	}
	c := NewClassifier(lists)
	if got := c.Classify("VENDOR_HIGH_B"); got != DWI {
		t.Errorf("custom DWI name classified as %v", got)
	}
	if got := c.Classify("vendor_adc_map"); got != ADC {
		t.Errorf("custom ADC name classified as %v", got)
	}
	if got := c.Classify("prostate_T2_axial"); got != T2W {
		t.Errorf("custom T2W name classified as %v", got)
	}
}

func TestLoadNameLists_MissingVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.yaml")
	if err := os.WriteFile(path, []byte("adc: [x]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadNameLists(path); err == nil {
		t.Error("expected error for name lists without version")
	}
}

func TestChannel(t *testing.T) {
	if T2W.Channel() != 0 || ADC.Channel() != 1 || DWI.Channel() != 2 {
		t.Error("unexpected channel order")
	}
	if Unclassified.Channel() != -1 {
		t.Error("unclassified should have no channel")
	}
	if !IsValid("ADC") || IsValid("adc") || IsValid("UNCLASSIFIED") {
		t.Error("IsValid mismatch")
	}
}
