package codec

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type Info struct {
	Format string
	Width  int
	Height int
}

// Probe reads only the image header. It knows the formats registered above,
// which is a subset of what Decode accepts.
func Probe(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return Info{
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// CheckPixels rejects images whose header declares more than maxPixels
// pixels. Headers the Go decoders cannot read are let through for OpenCV to
// judge. A non-positive limit disables the check.
func CheckPixels(data []byte, maxPixels int64) (Info, error) {
	info, err := Probe(data)
	if err != nil {
		return Info{}, nil
	}
	if maxPixels > 0 && int64(info.Width)*int64(info.Height) > maxPixels {
		return info, fmt.Errorf("%w: %dx%d > %d", ErrImageTooLarge, info.Width, info.Height, maxPixels)
	}
	return info, nil
}
