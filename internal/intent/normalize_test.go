package intent

import (
	"reflect"
	"testing"

	"github.com/dunamismax/pixelprompt/internal/domain"
)

func mustExtract(t *testing.T, raw string) Payload {
	t.Helper()
	payload, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract %q: %v", raw, err)
	}
	return payload
}

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []domain.Operation
	}{
		{
			name: "operations list",
			raw:  `{"operations": [{"type": "Grayscale"}, {"type": "grayscale"}]}`,
			want: []domain.Operation{domain.Grayscale{}, domain.Grayscale{}},
		},
		{
			name: "singular operation string",
			raw:  `{"operation": "sharpen"}`,
			want: []domain.Operation{domain.Sharpen{}},
		},
		{
			name: "singular operation object",
			raw:  `{"operation": {"type": "flip", "direction": "Vertical"}}`,
			want: []domain.Operation{domain.Flip{Direction: domain.FlipVertical}},
		},
		{
			name: "neither key",
			raw:  `{"result": "ok"}`,
			want: []domain.Operation{},
		},
		{
			name: "empty type dropped",
			raw:  `{"operations": [{"type": ""}, {"direction": "vertical"}, {"type": "canny"}]}`,
			want: []domain.Operation{domain.Canny{}},
		},
		{
			name: "unknown kept as unknown",
			raw:  `{"operations": [{"type": "levitate"}]}`,
			want: []domain.Operation{domain.Unknown{Type: "levitate"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(mustExtract(t, tt.raw))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestResolveKindSynonyms(t *testing.T) {
	cases := map[string]domain.Kind{
		"BoundingBox":         domain.KindBoundaryExtraction,
		"bounding_box":        domain.KindBoundaryExtraction,
		"extractboundary":     domain.KindBoundaryExtraction,
		"invert":              domain.KindNegative,
		"Inversion":           domain.KindNegative,
		"color_invert":        domain.KindNegative,
		"negative":            domain.KindNegative,
		"color_pencil_sketch": domain.KindColourPencilSketch,
		" grabcut ":           domain.KindGrabCut,
	}
	for in, want := range cases {
		if got := ResolveKind(in); got != want {
			t.Fatalf("ResolveKind(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestNormalizeAdjustment(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.Operation
	}{
		{name: "integer", raw: `{"operations": [{"type": "brightness", "adjustment": -20}]}`, want: domain.Brightness{Beta: -20}},
		{name: "numeric string", raw: `{"operations": [{"type": "contrast", "amount": " 25 "}]}`, want: domain.Contrast{Beta: 25}},
		{name: "float truncates", raw: `{"operations": [{"type": "blur", "level": 14.9}]}`, want: domain.Blur{Kernel: 14}},
		{name: "level word", raw: `{"operations": [{"type": "blur", "intensity": "HIGH"}]}`, want: domain.Blur{Kernel: 90}},
		{name: "medium", raw: `{"operations": [{"type": "brightness", "intensity": "medium"}]}`, want: domain.Brightness{Beta: 60}},
		{name: "low", raw: `{"operations": [{"type": "contrast", "level": "low"}]}`, want: domain.Contrast{Beta: 30}},
		{name: "garbage falls back", raw: `{"operations": [{"type": "contrast", "amount": "lots"}]}`, want: domain.Contrast{Beta: 40}},
		{name: "missing uses default", raw: `{"operations": [{"type": "blur"}]}`, want: domain.Blur{Kernel: 15}},
		{name: "zero is empty", raw: `{"operations": [{"type": "brightness", "adjustment": 0, "amount": 10}]}`, want: domain.Brightness{Beta: 10}},
		{name: "first non-empty wins", raw: `{"operations": [{"type": "brightness", "adjustment": "", "amount": null, "intensity": "low", "level": 99}]}`, want: domain.Brightness{Beta: 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(mustExtract(t, tt.raw))
			if len(got) != 1 {
				t.Fatalf("expected one operation, got %#v", got)
			}
			if got[0] != tt.want {
				t.Fatalf("expected %#v, got %#v", tt.want, got[0])
			}
		})
	}
}

func TestNormalizeFlipDefaultsHorizontal(t *testing.T) {
	got := Normalize(mustExtract(t, `{"operations": [
		{"type": "flip"},
		{"type": "flip", "direction": ""},
		{"type": "flip", "direction": " Horizontal "},
		{"type": "flip", "direction": "vertically"},
		{"type": "flip", "direction": "up-down"}
	]}`))
	want := []domain.Operation{
		domain.Flip{Direction: domain.FlipHorizontal},
		domain.Flip{Direction: domain.FlipHorizontal},
		domain.Flip{Direction: domain.FlipHorizontal},
		domain.Flip{Direction: domain.FlipVertical},
		domain.Flip{Direction: domain.FlipVertical},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
}

func TestNormalizeNoneAndNilPayload(t *testing.T) {
	got := Normalize(mustExtract(t, FallbackPayload))
	if !reflect.DeepEqual(got, []domain.Operation{domain.None{}}) {
		t.Fatalf("expected none operation, got %#v", got)
	}

	if got := Normalize(nil); len(got) != 0 {
		t.Fatalf("expected empty list for nil payload, got %#v", got)
	}
}
