package intent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelprompt/internal/domain"
)

// synonyms maps alias spellings to canonical kinds. Keys are lower-case.
var synonyms = map[string]domain.Kind{
	"boundingbox":         domain.KindBoundaryExtraction,
	"bounding_box":        domain.KindBoundaryExtraction,
	"extractboundary":     domain.KindBoundaryExtraction,
	"invert":              domain.KindNegative,
	"inversion":           domain.KindNegative,
	"color_invert":        domain.KindNegative,
	"colour_invert":       domain.KindNegative,
	"color_pencil_sketch": domain.KindColourPencilSketch,
	"greyscale":           domain.KindGrayscale,
}

// adjustmentKeys are read in order; the first non-empty one wins.
var adjustmentKeys = []string{"adjustment", "amount", "intensity", "level"}

var adjustmentLevels = map[string]int{
	"low":    30,
	"medium": 60,
	"high":   90,
}

const (
	defaultBrightness = 60
	defaultContrast   = 40
	defaultBlurKernel = 15
)

// Normalize turns a decoded payload into an ordered operation list. It never
// fails: missing keys give an empty list and unknown types become
// domain.Unknown.
func Normalize(p Payload) []domain.Operation {
	raw := entries(p)
	ops := make([]domain.Operation, 0, len(raw))
	for _, entry := range raw {
		op, ok := operationFrom(entry)
		if !ok {
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

// ResolveKind lower-cases name and applies the synonym table.
func ResolveKind(name string) domain.Kind {
	name = strings.ToLower(strings.TrimSpace(name))
	if kind, ok := synonyms[name]; ok {
		return kind
	}
	return domain.Kind(name)
}

func entries(p Payload) []map[string]any {
	if list, ok := p["operations"].([]any); ok {
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			switch v := item.(type) {
			case map[string]any:
				out = append(out, v)
			case string:
				out = append(out, map[string]any{"type": v})
			}
		}
		return out
	}

	single, ok := p["operation"]
	if !ok {
		return nil
	}
	switch v := single.(type) {
	case string:
		return []map[string]any{{"type": v}}
	case map[string]any:
		return []map[string]any{v}
	default:
		return nil
	}
}

func operationFrom(entry map[string]any) (domain.Operation, bool) {
	name, _ := entry["type"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, false
	}

	switch kind := ResolveKind(name); kind {
	case domain.KindBrightness:
		return domain.Brightness{Beta: adjustment(entry, defaultBrightness)}, true
	case domain.KindContrast:
		return domain.Contrast{Beta: adjustment(entry, defaultContrast)}, true
	case domain.KindBlur:
		return domain.Blur{Kernel: adjustment(entry, defaultBlurKernel)}, true
	case domain.KindSharpen:
		return domain.Sharpen{}, true
	case domain.KindCanny:
		return domain.Canny{}, true
	case domain.KindNegative:
		return domain.Negative{}, true
	case domain.KindGrayscale:
		return domain.Grayscale{}, true
	case domain.KindFlip:
		return domain.Flip{Direction: flipDirection(entry)}, true
	case domain.KindPencilSketch:
		return domain.PencilSketch{}, true
	case domain.KindColourPencilSketch:
		return domain.ColourPencilSketch{}, true
	case domain.KindCartoon:
		return domain.Cartoon{}, true
	case domain.KindWatershed:
		return domain.Watershed{}, true
	case domain.KindGrabCut:
		return domain.GrabCut{}, true
	case domain.KindBoundaryExtraction:
		return domain.BoundaryExtraction{}, true
	case domain.KindBackgroundBlur:
		return domain.BackgroundBlur{}, true
	case domain.KindBackgroundRemoval:
		return domain.BackgroundRemoval{}, true
	case domain.KindNone:
		return domain.None{}, true
	default:
		return domain.Unknown{Type: string(kind)}, true
	}
}

// flipDirection treats a missing direction or "horizontal" as horizontal and
// anything else as vertical.
func flipDirection(entry map[string]any) domain.FlipDirection {
	value, ok := entry["direction"]
	if !ok || value == nil {
		return domain.FlipHorizontal
	}
	direction := strings.TrimSpace(fmt.Sprint(value))
	if direction == "" || strings.EqualFold(direction, string(domain.FlipHorizontal)) {
		return domain.FlipHorizontal
	}
	return domain.FlipVertical
}

func adjustment(entry map[string]any, fallback int) int {
	for _, key := range adjustmentKeys {
		value, ok := entry[key]
		if !ok || isEmpty(value) {
			continue
		}
		return parseAdjustment(value, fallback)
	}
	return fallback
}

// isEmpty mirrors the falsy values a completion may use for "not set".
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	case float64:
		return v == 0
	case int:
		return v == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func parseAdjustment(value any, fallback int) int {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
		return fallback
	case float64:
		return int(v)
	case int:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		trimmed := strings.TrimSpace(v)
		if n, err := strconv.Atoi(trimmed); err == nil {
			return n
		}
		if level, ok := adjustmentLevels[strings.ToLower(trimmed)]; ok {
			return level
		}
		return fallback
	default:
		return fallback
	}
}
