package codec

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"gocv.io/x/gocv"

	"github.com/dunamismax/pixelprompt/internal/domain"
)

const pdfImageName = "page"

// Encode writes mat as PNG, or as a single-page PDF when format is "pdf"
// (case-insensitive). It returns the bytes and the normalized format.
func Encode(mat gocv.Mat, format string) ([]byte, string, error) {
	if mat.Empty() {
		return nil, "", fmt.Errorf("cannot encode empty image")
	}

	format = domain.NormalizeFormat(format)
	png, err := encodePNG(mat)
	if err != nil {
		return nil, "", err
	}
	if format == domain.FormatPNG {
		return png, format, nil
	}

	pdf, err := encodePDF(png, mat.Cols(), mat.Rows())
	if err != nil {
		return nil, "", err
	}
	return pdf, format, nil
}

func ContentType(format string) string {
	if domain.NormalizeFormat(format) == domain.FormatPDF {
		return "application/pdf"
	}
	return "image/png"
}

func Extension(format string) string {
	return domain.NormalizeFormat(format)
}

func encodePNG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

// encodePDF places the PNG on one page sized to the image at 72 dpi, so a
// pixel maps to a point.
func encodePDF(png []byte, width, height int) ([]byte, error) {
	w, h := float64(width), float64(height)
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(pdfImageName, opts, bytes.NewReader(png))
	pdf.ImageOptions(pdfImageName, 0, 0, w, h, false, opts, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("encode pdf: %w", err)
	}
	return out.Bytes(), nil
}
