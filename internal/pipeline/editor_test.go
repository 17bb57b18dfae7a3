package pipeline

import (
	"bytes"
	"context"
	"testing"

	"gocv.io/x/gocv"

	"github.com/dunamismax/pixelprompt/internal/domain"
	"github.com/dunamismax/pixelprompt/internal/logging"
)

func newTestEditor() *Editor {
	return NewEditor(logging.Discard())
}

func TestEditor_FlipTwiceIsIdentity(t *testing.T) {
	for _, dir := range []domain.FlipDirection{domain.FlipHorizontal, domain.FlipVertical} {
		src := gradientMat(t, 40, 24)
		want := src.ToBytes()

		out, report, err := newTestEditor().Run(context.Background(), src, []domain.Operation{
			domain.Flip{Direction: dir},
			domain.Flip{Direction: dir},
		})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(report.Applied) != 2 {
			t.Fatalf("expected 2 applied operations, got %d", len(report.Applied))
		}
		if !bytes.Equal(out.ToBytes(), want) {
			t.Fatalf("expected double %s flip to restore image", dir)
		}
		out.Close()
	}
}

func TestEditor_FlipVerticalMovesTopRow(t *testing.T) {
	src := gradientMat(t, 8, 6)
	top := src.GetVecbAt(0, 3)

	out, ok := newTestEditor().Apply(src, domain.Flip{Direction: domain.FlipVertical})
	if !ok {
		t.Fatal("expected flip to apply")
	}
	defer out.Close()
	src.Close()

	if got := out.GetVecbAt(out.Rows()-1, 3); !bytes.Equal(got, top) {
		t.Fatalf("expected bottom row to hold old top row, got %v want %v", got, top)
	}
}

func TestEditor_NegativeTwiceIsIdentity(t *testing.T) {
	src := gradientMat(t, 17, 9)
	want := src.ToBytes()

	out, _, err := newTestEditor().Run(context.Background(), src, []domain.Operation{
		domain.Negative{},
		domain.Negative{},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer out.Close()

	if !bytes.Equal(out.ToBytes(), want) {
		t.Fatal("expected double negative to restore image")
	}
}

func TestEditor_BrightnessAndContrast(t *testing.T) {
	tests := []struct {
		name string
		op   domain.Operation
		want uint8
	}{
		{name: "brightness", op: domain.Brightness{Beta: 60}, want: 160},
		{name: "negative brightness", op: domain.Brightness{Beta: -30}, want: 70},
		{name: "contrast", op: domain.Contrast{Beta: 40}, want: 170},
		{name: "saturates", op: domain.Brightness{Beta: 200}, want: 255},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := uniformMat(100, 10, 10)
			out, ok := newTestEditor().Apply(src, tc.op)
			src.Close()
			if !ok {
				t.Fatal("expected operation to apply")
			}
			defer out.Close()

			if got := out.GetVecbAt(5, 5)[0]; got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestEditor_UnknownIsSkippedAndLeavesImage(t *testing.T) {
	src := gradientMat(t, 12, 12)
	want := src.ToBytes()

	out, report, err := newTestEditor().Run(context.Background(), src, []domain.Operation{
		domain.Unknown{Type: "levitate"},
		domain.None{},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer out.Close()

	if len(report.Applied) != 0 {
		t.Fatalf("expected nothing applied, got %+v", report.Applied)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Type != "levitate" {
		t.Fatalf("expected levitate skipped, got %+v", report.Skipped)
	}
	if !bytes.Equal(out.ToBytes(), want) {
		t.Fatal("expected image unchanged")
	}
}

func TestEditor_GrayResultIsExpandedToBGR(t *testing.T) {
	for _, op := range []domain.Operation{domain.Grayscale{}, domain.Canny{}, domain.PencilSketch{}} {
		src := gradientMat(t, 30, 20)
		out, _, err := newTestEditor().Run(context.Background(), src, []domain.Operation{op})
		if err != nil {
			t.Fatalf("run %s: %v", op.Kind(), err)
		}
		if out.Channels() != 3 {
			t.Fatalf("%s: expected 3 channels, got %d", op.Kind(), out.Channels())
		}
		if out.Cols() != 30 || out.Rows() != 20 {
			t.Fatalf("%s: expected 30x20, got %dx%d", op.Kind(), out.Cols(), out.Rows())
		}
		out.Close()
	}
}

func TestEditor_ColourOpsAcceptGrayInput(t *testing.T) {
	ops := []domain.Operation{
		domain.Grayscale{},
		domain.ColourPencilSketch{},
		domain.Grayscale{},
		domain.Cartoon{},
		domain.Grayscale{},
		domain.BackgroundBlur{},
	}
	src := gradientMat(t, 32, 32)
	out, report, err := newTestEditor().Run(context.Background(), src, ops)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer out.Close()

	if len(report.Applied) != len(ops) {
		t.Fatalf("expected every operation applied, got %+v skipped %+v", report.Applied, report.Skipped)
	}
}

func TestEditor_PencilSketchOfFlatImageIsBright(t *testing.T) {
	src := uniformMat(120, 25, 25)
	out, ok := newTestEditor().Apply(src, domain.PencilSketch{})
	src.Close()
	if !ok {
		t.Fatal("expected pencil sketch to apply")
	}
	defer out.Close()

	if out.Channels() != 1 {
		t.Fatalf("expected single channel sketch, got %d", out.Channels())
	}
	// Dodge saturates to 255, no edges, 0.8 weight.
	if got := out.GetUCharAt(12, 12); got != 204 {
		t.Fatalf("expected 204, got %d", got)
	}
}

func TestEditor_BoundaryExtractionOfFlatImageIsBlack(t *testing.T) {
	src := uniformMat(180, 20, 20)
	out, ok := newTestEditor().Apply(src, domain.BoundaryExtraction{})
	src.Close()
	if !ok {
		t.Fatal("expected boundary extraction to apply")
	}
	defer out.Close()

	if out.Channels() != 3 {
		t.Fatalf("expected bgr, got %d channels", out.Channels())
	}
	for i, v := range out.ToBytes() {
		if v != 0 {
			t.Fatalf("expected no boundary pixels, byte %d is %d", i, v)
		}
	}
}

func TestEditor_BackgroundBlurKeepsWhiteImage(t *testing.T) {
	src := uniformMat(255, 30, 30)
	want := src.ToBytes()

	out, ok := newTestEditor().Apply(src, domain.BackgroundBlur{})
	src.Close()
	if !ok {
		t.Fatal("expected background blur to apply")
	}
	defer out.Close()

	if !bytes.Equal(out.ToBytes(), want) {
		t.Fatal("expected blurred white to stay white")
	}
}

func TestEditor_GrabCutOnSinglePixelIsSkipped(t *testing.T) {
	src := gradientMat(t, 1, 1)
	want := src.ToBytes()

	out, report, err := newTestEditor().Run(context.Background(), src, []domain.Operation{domain.GrabCut{}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer out.Close()

	if len(report.Skipped) != 1 {
		t.Fatalf("expected grabcut skipped, got %+v", report)
	}
	if !bytes.Equal(out.ToBytes(), want) {
		t.Fatal("expected image unchanged")
	}
}

func TestEditor_WatershedKeepsShape(t *testing.T) {
	src := gradientMat(t, 48, 32)
	out, _, err := newTestEditor().Run(context.Background(), src, []domain.Operation{domain.Watershed{}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer out.Close()

	if out.Cols() != 48 || out.Rows() != 32 || out.Channels() != 3 {
		t.Fatalf("unexpected shape %dx%dx%d", out.Cols(), out.Rows(), out.Channels())
	}
}

func TestEditor_RunIsAFold(t *testing.T) {
	first := []domain.Operation{domain.Brightness{Beta: 20}, domain.Flip{Direction: domain.FlipHorizontal}}
	second := []domain.Operation{domain.Negative{}, domain.Blur{Kernel: 4}}

	editor := newTestEditor()
	all, _, err := editor.Run(context.Background(), gradientMat(t, 20, 20), append(append([]domain.Operation{}, first...), second...))
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	defer all.Close()

	mid, _, err := editor.Run(context.Background(), gradientMat(t, 20, 20), first)
	if err != nil {
		t.Fatalf("run first: %v", err)
	}
	chained, _, err := editor.Run(context.Background(), mid, second)
	if err != nil {
		t.Fatalf("run second: %v", err)
	}
	defer chained.Close()

	if !bytes.Equal(all.ToBytes(), chained.ToBytes()) {
		t.Fatal("expected running a list to equal running its halves in sequence")
	}
}

func TestEditor_RunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestEditor().Run(ctx, gradientMat(t, 4, 4), []domain.Operation{domain.Negative{}})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOddKernel(t *testing.T) {
	tests := map[int]int{14: 15, 15: 15, 0: 1, -4: 5, -7: 7}
	for in, want := range tests {
		if got := oddKernel(in); got != want {
			t.Fatalf("oddKernel(%d): expected %d, got %d", in, want, got)
		}
	}
}

func TestDodge(t *testing.T) {
	tests := []struct {
		gray, blurred, want uint8
	}{
		{0, 80, 0},
		{90, 255, 0},
		{100, 55, 128},
		{200, 100, 255},
	}
	for _, tc := range tests {
		if got := dodge(tc.gray, tc.blurred); got != tc.want {
			t.Fatalf("dodge(%d, %d): expected %d, got %d", tc.gray, tc.blurred, tc.want, got)
		}
	}
}

func uniformMat(value float64, w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), h, w, gocv.MatTypeCV8UC3)
}

func gradientMat(t *testing.T, w, h int) gocv.Mat {
	t.Helper()

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	px, err := mat.DataPtrUint8()
	if err != nil {
		t.Fatalf("mat data: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 3 * (y*w + x)
			px[i] = 140
			px[i+1] = uint8((y * 255) / h)
			px[i+2] = uint8((x * 255) / w)
		}
	}
	return mat
}
