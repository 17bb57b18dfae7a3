//go:build govips && cgo

package codec

import (
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"gocv.io/x/gocv"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// decodeFallback lets libvips read what OpenCV cannot (HEIF, AVIF, GIF,
// JPEG XL ...) and hands OpenCV a PNG.
func decodeFallback(data []byte) (gocv.Mat, error) {
	if err := Startup(); err != nil {
		return gocv.NewMat(), err
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode with libvips: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return gocv.NewMat(), fmt.Errorf("auto-rotate: %w", err)
	}

	png, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("re-encode as png: %w", err)
	}

	mat, err := gocv.IMDecode(png, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode normalized png: %w", err)
	}
	return mat, nil
}
