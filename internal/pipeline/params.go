package pipeline

// Fixed parameters of the operation table. Adjustable defaults (brightness,
// contrast, blur) live with the normalizer in package intent.
const (
	contrastAlpha = 1.3

	cannyLow  = 100
	cannyHigh = 200

	sketchBlurKernel = 21
	sketchDodgeScale = 256.0
	sketchCannyLow   = 50
	sketchCannyHigh  = 150
	sketchWeight     = 0.8
	sketchEdgeWeight = 0.2

	colourSketchWeight = 0.5

	cartoonMedianKernel   = 5
	cartoonThresholdBlock = 9
	cartoonThresholdC     = 9
	cartoonBilateralD     = 9
	cartoonBilateralSigma = 250

	watershedKernel         = 3
	watershedOpenIterations = 2
	watershedDilateIters    = 3
	watershedForegroundFrac = 0.7

	grabCutIterations = 5

	boundaryKernel = 5

	backgroundThreshold  = 250
	backgroundBlurKernel = 21
)

// GrabCut seeds its rectangle as the central half of the frame.
func grabCutRect(w, h int) (x, y, rw, rh int) {
	return w / 4, h / 4, w / 2, h / 2
}

// Background removal seeds with the central 80%.
func backgroundRemovalRect(w, h int) (x, y, rw, rh int) {
	return w / 10, h / 10, 8 * w / 10, 8 * h / 10
}

// oddKernel makes a Gaussian kernel size positive and odd.
func oddKernel(k int) int {
	if k < 0 {
		k = -k
	}
	if k%2 == 0 {
		k++
	}
	return k
}
