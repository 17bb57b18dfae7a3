//go:build !govips || !cgo

package codec

import (
	"bytes"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

func Startup() error {
	return nil
}

func Shutdown() {}

// decodeFallback uses the Go decoders registered in probe.go.
func decodeFallback(data []byte) (gocv.Mat, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode with image package: %w", err)
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert to mat: %w", err)
	}
	return mat, nil
}
