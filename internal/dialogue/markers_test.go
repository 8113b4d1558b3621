package dialogue

import (
	"reflect"
	"testing"
)

func TestScanMarkers(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantAttr []string
		wantSpec []string
	}{
		{
			name:     "citation and speculation",
			message:  "Adoption is rising [Surface: Study X]. It may accelerate [SPECULATION].",
			wantAttr: []string{"[Surface: Study X]"},
			wantSpec: []string{"[SPECULATION]"},
		},
		{
			name:     "multiple citations keep message order",
			message:  "[Academic: arXiv 2301.07041] supports this, as does [Social: forum thread].",
			wantAttr: []string{"[Academic: arXiv 2301.07041]", "[Social: forum thread]"},
		},
		{
			name:     "repeated speculation counted per occurrence",
			message:  "Maybe [SPECULATION]. Or maybe not [SPECULATION].",
			wantSpec: []string{"[SPECULATION]", "[SPECULATION]"},
		},
		{
			name:    "no markers",
			message: "A plain statement with no tags.",
		},
		{
			name:    "bracket without colon is not a citation",
			message: "See [1] and [TODO] for details.",
		},
		{
			name:     "two word category",
			message:  "Confirmed by [Deep Research: report 2].",
			wantAttr: []string{"[Deep Research: report 2]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr, spec := ScanMarkers(tt.message)
			if !reflect.DeepEqual(attr, tt.wantAttr) {
				t.Errorf("attributions = %v, want %v", attr, tt.wantAttr)
			}
			if !reflect.DeepEqual(spec, tt.wantSpec) {
				t.Errorf("speculation = %v, want %v", spec, tt.wantSpec)
			}
		})
	}
}
