package codec

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var (
	ErrUnsupportedImage = errors.New("unsupported image")
	ErrImageTooLarge    = errors.New("image exceeds pixel limit")
)

// Decode loads an encoded image into a 3-channel BGR Mat. OpenCV is tried
// first; formats it rejects go through the build's fallback decoder. Alpha
// is dropped, not composited.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty input", ErrUnsupportedImage)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	if err == nil {
		mat.Close()
	}

	fallback, ferr := decodeFallback(data)
	if ferr != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrUnsupportedImage, ferr)
	}
	if fallback.Empty() {
		fallback.Close()
		return gocv.NewMat(), fmt.Errorf("%w: decoder produced no pixels", ErrUnsupportedImage)
	}
	return fallback, nil
}
