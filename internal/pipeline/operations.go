package pipeline

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/dunamismax/pixelprompt/internal/domain"
)

var (
	errShapeMismatch  = errors.New("buffer shape mismatch")
	errOperationValue = errors.New("operation value does not match its kind")
)

// paramsOf returns op as the value type T that carries its parameters.
func paramsOf[T domain.Operation](op domain.Operation) (T, error) {
	v, ok := op.(T)
	if !ok {
		return v, fmt.Errorf("%w: %T", errOperationValue, op)
	}
	return v, nil
}

// produce allocates a destination Mat, runs fn into it and closes it again
// when fn fails.
func produce(step string, fn func(dst *gocv.Mat) error) (gocv.Mat, error) {
	dst := gocv.NewMat()
	if err := fn(&dst); err != nil {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("%s: %w", step, err)
	}
	return dst, nil
}

func applyBrightness(src gocv.Mat, op domain.Operation) (gocv.Mat, error) {
	b, err := paramsOf[domain.Brightness](op)
	if err != nil {
		return gocv.NewMat(), err
	}
	return convertScaleAbs(src, 1, float64(b.Beta))
}

func applyContrast(src gocv.Mat, op domain.Operation) (gocv.Mat, error) {
	c, err := paramsOf[domain.Contrast](op)
	if err != nil {
		return gocv.NewMat(), err
	}
	return convertScaleAbs(src, contrastAlpha, float64(c.Beta))
}

func convertScaleAbs(src gocv.Mat, alpha, beta float64) (gocv.Mat, error) {
	return produce("convert scale abs", func(dst *gocv.Mat) error {
		return gocv.ConvertScaleAbs(src, dst, alpha, beta)
	})
}

func applyBlur(src gocv.Mat, op domain.Operation) (gocv.Mat, error) {
	b, err := paramsOf[domain.Blur](op)
	if err != nil {
		return gocv.NewMat(), err
	}
	return gaussian(src, oddKernel(b.Kernel))
}

func gaussian(src gocv.Mat, k int) (gocv.Mat, error) {
	return produce(fmt.Sprintf("gaussian blur k=%d", k), func(dst *gocv.Mat) error {
		return gocv.GaussianBlur(src, dst, image.Pt(k, k), 0, 0, gocv.BorderDefault)
	})
}

func applySharpen(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	return sharpen(src)
}

func sharpen(src gocv.Mat) (gocv.Mat, error) {
	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	weights := [3][3]float32{
		{0, -1, 0},
		{-1, 5, -1},
		{0, -1, 0},
	}
	for r, row := range weights {
		for c, w := range row {
			kernel.SetFloatAt(r, c, w)
		}
	}

	return produce("sharpen filter", func(dst *gocv.Mat) error {
		return gocv.Filter2D(src, dst, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	})
}

func applyCanny(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	gray, err := toGray(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	return canny(gray, cannyLow, cannyHigh)
}

func canny(gray gocv.Mat, low, high float32) (gocv.Mat, error) {
	return produce("canny", func(dst *gocv.Mat) error {
		return gocv.Canny(gray, dst, low, high)
	})
}

func applyNegative(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	return produce("bitwise not", func(dst *gocv.Mat) error {
		return gocv.BitwiseNot(src, dst)
	})
}

func applyGrayscale(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	return toGray(src)
}

func applyFlip(src gocv.Mat, op domain.Operation) (gocv.Mat, error) {
	f, err := paramsOf[domain.Flip](op)
	if err != nil {
		return gocv.NewMat(), err
	}
	code := 1
	if f.Direction == domain.FlipVertical {
		code = 0
	}
	return produce("flip", func(dst *gocv.Mat) error {
		return gocv.Flip(src, dst, code)
	})
}

func applyPencilSketch(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	gray, err := toGray(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	sketch, err := dodgeSketch(gray)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer sketch.Close()

	edges, err := canny(gray, sketchCannyLow, sketchCannyHigh)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer edges.Close()

	return produce("blend sketch", func(dst *gocv.Mat) error {
		return gocv.AddWeighted(sketch, sketchWeight, edges, sketchEdgeWeight, 0, dst)
	})
}

func applyColourPencilSketch(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	bgr, err := toBGR(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer bgr.Close()

	gray, err := toGray(bgr)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	sketch, err := dodgeSketch(gray)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer sketch.Close()

	sketchBGR, err := toBGR(sketch)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer sketchBGR.Close()

	sharpened, err := sharpen(bgr)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer sharpened.Close()

	return produce("blend colour sketch", func(dst *gocv.Mat) error {
		return gocv.AddWeighted(sharpened, colourSketchWeight, sketchBGR, colourSketchWeight, 0, dst)
	})
}

// dodgeSketch blends gray with its blurred inverse by colour dodge:
// gray*256/(255-blurred), saturated, 0 where the divisor is 0.
func dodgeSketch(gray gocv.Mat) (gocv.Mat, error) {
	inverted, err := applyNegative(gray, nil)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer inverted.Close()

	blurred, err := gaussian(inverted, sketchBlurKernel)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer blurred.Close()

	out := gray.Clone()
	g, err := gray.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	b, err := blurred.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	o, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	if len(g) != len(b) || len(g) != len(o) {
		out.Close()
		return gocv.NewMat(), errShapeMismatch
	}

	for i := range o {
		o[i] = dodge(g[i], b[i])
	}
	return out, nil
}

func dodge(gray, blurred uint8) uint8 {
	den := 255 - int(blurred)
	if den == 0 {
		return 0
	}
	v := math.RoundToEven(float64(gray) * sketchDodgeScale / float64(den))
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func applyCartoon(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	bgr, err := toBGR(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer bgr.Close()

	gray, err := toGray(bgr)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	smoothed, err := produce("median blur", func(dst *gocv.Mat) error {
		return gocv.MedianBlur(gray, dst, cartoonMedianKernel)
	})
	if err != nil {
		return gocv.NewMat(), err
	}
	defer smoothed.Close()

	edges, err := produce("adaptive threshold", func(dst *gocv.Mat) error {
		return gocv.AdaptiveThreshold(smoothed, dst, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary,
			cartoonThresholdBlock, cartoonThresholdC)
	})
	if err != nil {
		return gocv.NewMat(), err
	}
	defer edges.Close()

	colour, err := produce("bilateral filter", func(dst *gocv.Mat) error {
		return gocv.BilateralFilter(bgr, dst, cartoonBilateralD, cartoonBilateralSigma, cartoonBilateralSigma)
	})
	if err != nil {
		return gocv.NewMat(), err
	}
	defer colour.Close()

	dst := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), bgr.Rows(), bgr.Cols(), gocv.MatTypeCV8UC3)
	if err := colour.CopyToWithMask(&dst, edges); err != nil {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("mask cartoon colours: %w", err)
	}
	return dst, nil
}

func applyWatershed(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	bgr, err := toBGR(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer bgr.Close()

	gray, err := toGray(bgr)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(watershedKernel, watershedKernel))
	defer kernel.Close()

	opening, err := morph(thresh, kernel, watershedOpenIterations, watershedOpenIterations)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer opening.Close()
	sureBG, err := morph(opening, kernel, 0, watershedDilateIters)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer sureBG.Close()

	dist := gocv.NewMat()
	defer dist.Close()
	labels := gocv.NewMat()
	defer labels.Close()
	if err := gocv.DistanceTransform(opening, &dist, &labels, gocv.DistL2, gocv.DistanceMask5, gocv.DistanceLabelCComp); err != nil {
		return gocv.NewMat(), fmt.Errorf("distance transform: %w", err)
	}
	_, maxDist, _, _ := gocv.MinMaxLoc(dist)

	fgFloat := gocv.NewMat()
	defer fgFloat.Close()
	gocv.Threshold(dist, &fgFloat, watershedForegroundFrac*maxDist, 255, gocv.ThresholdBinary)
	sureFG, err := produce("foreground to 8-bit", func(dst *gocv.Mat) error {
		return fgFloat.ConvertTo(dst, gocv.MatTypeCV8U)
	})
	if err != nil {
		return gocv.NewMat(), err
	}
	defer sureFG.Close()

	unknown, err := produce("unknown region", func(dst *gocv.Mat) error {
		return gocv.Subtract(sureBG, sureFG, dst)
	})
	if err != nil {
		return gocv.NewMat(), err
	}
	defer unknown.Close()

	markers := gocv.NewMat()
	defer markers.Close()
	gocv.ConnectedComponents(sureFG, &markers)

	mk, err := markers.DataPtrInt32()
	if err != nil {
		return gocv.NewMat(), err
	}
	un, err := unknown.DataPtrUint8()
	if err != nil {
		return gocv.NewMat(), err
	}
	if len(mk) != len(un) {
		return gocv.NewMat(), errShapeMismatch
	}
	for i := range mk {
		mk[i]++
		if un[i] == 255 {
			mk[i] = 0
		}
	}

	if err := gocv.Watershed(bgr, &markers); err != nil {
		return gocv.NewMat(), fmt.Errorf("watershed: %w", err)
	}

	out := bgr.Clone()
	if err := paintBoundaries(out, markers); err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	return out, nil
}

// morph erodes then dilates src with kernel the given number of times each.
func morph(src, kernel gocv.Mat, erosions, dilations int) (gocv.Mat, error) {
	current := src.Clone()
	for i := 0; i < erosions+dilations; i++ {
		step, apply := "erode", gocv.Erode
		if i >= erosions {
			step, apply = "dilate", gocv.Dilate
		}
		next, err := produce(step, func(dst *gocv.Mat) error {
			return apply(current, dst, kernel)
		})
		current.Close()
		if err != nil {
			return gocv.NewMat(), err
		}
		current = next
	}
	return current, nil
}

// paintBoundaries marks watershed ridge pixels (-1) red.
func paintBoundaries(img, markers gocv.Mat) error {
	mk, err := markers.DataPtrInt32()
	if err != nil {
		return err
	}
	px, err := img.DataPtrUint8()
	if err != nil {
		return err
	}
	if len(px) != 3*len(mk) {
		return errShapeMismatch
	}
	for i, m := range mk {
		if m == -1 {
			px[3*i], px[3*i+1], px[3*i+2] = 0, 0, 255
		}
	}
	return nil
}

func applyGrabCut(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	x, y, w, h := grabCutRect(src.Cols(), src.Rows())
	return grabCut(src, image.Rect(x, y, x+w, y+h))
}

func applyBackgroundRemoval(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	x, y, w, h := backgroundRemovalRect(src.Cols(), src.Rows())
	return grabCut(src, image.Rect(x, y, x+w, y+h))
}

// grabCut segments with rect as the probable foreground and blacks out
// every pixel labelled background or probable background.
func grabCut(src gocv.Mat, rect image.Rectangle) (gocv.Mat, error) {
	if rect.Empty() {
		return gocv.NewMat(), fmt.Errorf("grabcut rectangle %v is empty", rect)
	}

	bgr, err := toBGR(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer bgr.Close()

	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), bgr.Rows(), bgr.Cols(), gocv.MatTypeCV8UC1)
	defer mask.Close()
	bgModel := gocv.NewMat()
	defer bgModel.Close()
	fgModel := gocv.NewMat()
	defer fgModel.Close()

	if err := gocv.GrabCut(bgr, &mask, rect, &bgModel, &fgModel, grabCutIterations, gocv.GCInitWithRect); err != nil {
		return gocv.NewMat(), fmt.Errorf("grabcut: %w", err)
	}

	labels, err := mask.DataPtrUint8()
	if err != nil {
		return gocv.NewMat(), err
	}
	out := bgr.Clone()
	px, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	if len(px) != 3*len(labels) {
		out.Close()
		return gocv.NewMat(), errShapeMismatch
	}

	// 0 = background, 2 = probable background.
	for i, label := range labels {
		if label == 0 || label == 2 {
			px[3*i], px[3*i+1], px[3*i+2] = 0, 0, 0
		}
	}
	return out, nil
}

func applyBoundaryExtraction(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	gray, err := toGray(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(boundaryKernel, boundaryKernel))
	defer kernel.Close()

	eroded, err := produce("erode", func(dst *gocv.Mat) error {
		return gocv.Erode(gray, dst, kernel)
	})
	if err != nil {
		return gocv.NewMat(), err
	}
	defer eroded.Close()

	boundary, err := produce("subtract eroded", func(dst *gocv.Mat) error {
		return gocv.Subtract(gray, eroded, dst)
	})
	if err != nil {
		return gocv.NewMat(), err
	}
	defer boundary.Close()
	return toBGR(boundary)
}

// applyBackgroundBlur treats near-white pixels (gray > 250) as background
// and replaces them with a blurred copy of the image.
func applyBackgroundBlur(src gocv.Mat, _ domain.Operation) (gocv.Mat, error) {
	bgr, err := toBGR(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer bgr.Close()

	gray, err := toGray(bgr)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	foreground := gocv.NewMat()
	defer foreground.Close()
	gocv.Threshold(gray, &foreground, backgroundThreshold, 255, gocv.ThresholdBinaryInv)

	out, err := gaussian(bgr, backgroundBlurKernel)
	if err != nil {
		return gocv.NewMat(), err
	}
	if err := bgr.CopyToWithMask(&out, foreground); err != nil {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("restore foreground: %w", err)
	}
	return out, nil
}
