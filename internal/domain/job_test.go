package domain

import "testing"

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Prompt:     "make it grayscale",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{
		SourceType: SourceTypeLocalFile,
		Prompt:     "blur it",
	}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for missing object_key")
	}

	chained := CreateJobRequest{
		Prompt:      "now flip it",
		ParentJobID: "job-1",
	}
	if err := chained.Validate(); err != nil {
		t.Fatalf("expected chained request without source to be valid, got %v", err)
	}

	badSource := CreateJobRequest{SourceType: "ftp", Prompt: "sharpen"}
	if err := badSource.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}
}

func TestNormalizeFormat(t *testing.T) {
	cases := map[string]string{
		"pdf":  FormatPDF,
		"PDF":  FormatPDF,
		" Pdf": FormatPDF,
		"png":  FormatPNG,
		"jpeg": FormatPNG,
		"":     FormatPNG,
	}
	for in, want := range cases {
		if got := NormalizeFormat(in); got != want {
			t.Fatalf("NormalizeFormat(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestRecordOf(t *testing.T) {
	rec := RecordOf(Flip{Direction: FlipVertical})
	if rec.Type != "flip" || rec.Direction != "vertical" || rec.Adjustment != nil {
		t.Fatalf("unexpected flip record: %+v", rec)
	}

	rec = RecordOf(Blur{Kernel: 14})
	if rec.Type != "blur" || rec.Adjustment == nil || *rec.Adjustment != 14 {
		t.Fatalf("unexpected blur record: %+v", rec)
	}

	rec = RecordOf(Unknown{Type: "levitate"})
	if rec.Type != "levitate" {
		t.Fatalf("expected unknown record to keep its type, got %+v", rec)
	}

	records := Records([]Operation{PencilSketch{}, Negative{}})
	if len(records) != 2 || records[0].Type != "pencil_sketch" || records[1].Type != "negative" {
		t.Fatalf("unexpected records: %+v", records)
	}
}
