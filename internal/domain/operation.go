package domain

// Kind names an image operation in its canonical form.
type Kind string

const (
	KindBrightness         Kind = "brightness"
	KindContrast           Kind = "contrast"
	KindBlur               Kind = "blur"
	KindSharpen            Kind = "sharpen"
	KindCanny              Kind = "canny"
	KindNegative           Kind = "negative"
	KindGrayscale          Kind = "grayscale"
	KindFlip               Kind = "flip"
	KindPencilSketch       Kind = "pencil_sketch"
	KindColourPencilSketch Kind = "colour_pencil_sketch"
	KindCartoon            Kind = "cartoon"
	KindWatershed          Kind = "watershed"
	KindGrabCut            Kind = "grabcut"
	KindBoundaryExtraction Kind = "boundary_extraction"
	KindBackgroundBlur     Kind = "background_blur"
	KindBackgroundRemoval  Kind = "background_removal"
	KindNone               Kind = "none"
	KindUnknown            Kind = "unknown"
)

// Operation is one decoded edit. Concrete values are the structs below;
// callers dispatch with a type switch.
type Operation interface {
	Kind() Kind
}

type FlipDirection string

const (
	FlipHorizontal FlipDirection = "horizontal"
	FlipVertical   FlipDirection = "vertical"
)

type Brightness struct{ Beta int }

type Contrast struct{ Beta int }

// Blur carries the requested kernel size as decoded. The pipeline makes it
// positive and odd before use.
type Blur struct{ Kernel int }

type Sharpen struct{}

type Canny struct{}

type Negative struct{}

type Grayscale struct{}

type Flip struct{ Direction FlipDirection }

type PencilSketch struct{}

type ColourPencilSketch struct{}

type Cartoon struct{}

type Watershed struct{}

type GrabCut struct{}

type BoundaryExtraction struct{}

type BackgroundBlur struct{}

type BackgroundRemoval struct{}

// None is what the decoder falls back to when the completion service is
// unreachable.
type None struct{}

// Unknown preserves the type string of an operation nobody can apply.
type Unknown struct{ Type string }

func (Brightness) Kind() Kind         { return KindBrightness }
func (Contrast) Kind() Kind           { return KindContrast }
func (Blur) Kind() Kind               { return KindBlur }
func (Sharpen) Kind() Kind            { return KindSharpen }
func (Canny) Kind() Kind              { return KindCanny }
func (Negative) Kind() Kind           { return KindNegative }
func (Grayscale) Kind() Kind          { return KindGrayscale }
func (Flip) Kind() Kind               { return KindFlip }
func (PencilSketch) Kind() Kind       { return KindPencilSketch }
func (ColourPencilSketch) Kind() Kind { return KindColourPencilSketch }
func (Cartoon) Kind() Kind            { return KindCartoon }
func (Watershed) Kind() Kind          { return KindWatershed }
func (GrabCut) Kind() Kind            { return KindGrabCut }
func (BoundaryExtraction) Kind() Kind { return KindBoundaryExtraction }
func (BackgroundBlur) Kind() Kind     { return KindBackgroundBlur }
func (BackgroundRemoval) Kind() Kind  { return KindBackgroundRemoval }
func (None) Kind() Kind               { return KindNone }
func (Unknown) Kind() Kind            { return KindUnknown }

// OperationRecord is the JSON form of an Operation, used in history strings
// and persisted job state.
type OperationRecord struct {
	Type       string `json:"type"`
	Direction  string `json:"direction,omitempty"`
	Adjustment *int   `json:"adjustment,omitempty"`
}

// RecordOf converts an operation to its wire form.
func RecordOf(op Operation) OperationRecord {
	switch v := op.(type) {
	case Brightness:
		return OperationRecord{Type: string(KindBrightness), Adjustment: intPtr(v.Beta)}
	case Contrast:
		return OperationRecord{Type: string(KindContrast), Adjustment: intPtr(v.Beta)}
	case Blur:
		return OperationRecord{Type: string(KindBlur), Adjustment: intPtr(v.Kernel)}
	case Flip:
		return OperationRecord{Type: string(KindFlip), Direction: string(v.Direction)}
	case Unknown:
		return OperationRecord{Type: v.Type}
	case nil:
		return OperationRecord{Type: string(KindNone)}
	default:
		return OperationRecord{Type: string(op.Kind())}
	}
}

// Records converts a list of operations to wire form, preserving order.
func Records(ops []Operation) []OperationRecord {
	out := make([]OperationRecord, 0, len(ops))
	for _, op := range ops {
		out = append(out, RecordOf(op))
	}
	return out
}

func intPtr(v int) *int {
	return &v
}
