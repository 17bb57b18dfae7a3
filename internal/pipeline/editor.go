package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dunamismax/pixelprompt/internal/domain"
)

// opFunc produces a new Mat from src. It never closes src.
type opFunc func(src gocv.Mat, op domain.Operation) (gocv.Mat, error)

var operations = map[domain.Kind]opFunc{
	domain.KindBrightness:         applyBrightness,
	domain.KindContrast:           applyContrast,
	domain.KindBlur:               applyBlur,
	domain.KindSharpen:            applySharpen,
	domain.KindCanny:              applyCanny,
	domain.KindNegative:           applyNegative,
	domain.KindGrayscale:          applyGrayscale,
	domain.KindFlip:               applyFlip,
	domain.KindPencilSketch:       applyPencilSketch,
	domain.KindColourPencilSketch: applyColourPencilSketch,
	domain.KindCartoon:            applyCartoon,
	domain.KindWatershed:          applyWatershed,
	domain.KindGrabCut:            applyGrabCut,
	domain.KindBoundaryExtraction: applyBoundaryExtraction,
	domain.KindBackgroundBlur:     applyBackgroundBlur,
	domain.KindBackgroundRemoval:  applyBackgroundRemoval,
}

// Report lists what Run did with each operation, in order.
type Report struct {
	Applied []domain.OperationRecord
	Skipped []domain.OperationRecord
}

type Editor struct {
	logger logrus.FieldLogger
}

func NewEditor(logger logrus.FieldLogger) *Editor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Editor{logger: logger}
}

// Apply runs a single operation. When it reports true the returned Mat is
// new and owned by the caller; otherwise src is returned untouched. Unknown
// operations and OpenCV failures both report false.
func (e *Editor) Apply(src gocv.Mat, op domain.Operation) (gocv.Mat, bool) {
	if op == nil {
		return src, false
	}

	record := domain.RecordOf(op)
	log := e.logger.WithField("operation", record.Type)

	if op.Kind() == domain.KindNone {
		log.Debug("no-op requested")
		return src, false
	}

	fn, ok := operations[op.Kind()]
	if !ok {
		log.Warn("unknown operation, skipping")
		return src, false
	}

	out, err := fn(src, op)
	if err == nil && out.Empty() {
		out.Close()
		err = fmt.Errorf("operation produced an empty image")
	}
	if err != nil {
		log.WithError(err).Warn("operation failed, image unchanged")
		return src, false
	}

	fields := logrus.Fields{"channels": out.Channels()}
	if record.Adjustment != nil {
		fields["adjustment"] = *record.Adjustment
	}
	if record.Direction != "" {
		fields["direction"] = record.Direction
	}
	log.WithFields(fields).Info("applied operation")
	return out, true
}

// Run folds ops over img left to right and returns a 3-channel result. Run
// takes ownership of img. Cancellation is checked between operations.
func (e *Editor) Run(ctx context.Context, img gocv.Mat, ops []domain.Operation) (gocv.Mat, Report, error) {
	report := Report{
		Applied: make([]domain.OperationRecord, 0, len(ops)),
	}

	current := img
	for _, op := range ops {
		select {
		case <-ctx.Done():
			current.Close()
			return gocv.NewMat(), report, ctx.Err()
		default:
		}

		next, applied := e.Apply(current, op)
		if !applied {
			if op != nil && op.Kind() != domain.KindNone {
				report.Skipped = append(report.Skipped, domain.RecordOf(op))
			}
			continue
		}
		current.Close()
		current = next
		report.Applied = append(report.Applied, domain.RecordOf(op))
	}

	out, err := toBGR(current)
	current.Close()
	if err != nil {
		return gocv.NewMat(), report, fmt.Errorf("expand to bgr: %w", err)
	}
	return out, report, nil
}

// toGray returns a new single-channel copy of src.
func toGray(src gocv.Mat) (gocv.Mat, error) {
	if src.Channels() == 1 {
		return src.Clone(), nil
	}
	dst := gocv.NewMat()
	if err := gocv.CvtColor(src, &dst, gocv.ColorBGRToGray); err != nil {
		dst.Close()
		return gocv.NewMat(), err
	}
	return dst, nil
}

// toBGR returns a new three-channel copy of src.
func toBGR(src gocv.Mat) (gocv.Mat, error) {
	if src.Channels() == 3 {
		return src.Clone(), nil
	}
	dst := gocv.NewMat()
	if err := gocv.CvtColor(src, &dst, gocv.ColorGrayToBGR); err != nil {
		dst.Close()
		return gocv.NewMat(), err
	}
	return dst, nil
}
