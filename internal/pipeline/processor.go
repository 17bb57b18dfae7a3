package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelprompt/internal/codec"
	"github.com/dunamismax/pixelprompt/internal/domain"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Prompt     string
	History    string
	Format     string
}

// Edited is an encoded image plus what was done to it.
type Edited struct {
	Data       []byte
	Format     string
	Operations []domain.OperationRecord
	Report     Report
	Width      int
	Height     int
	Duration   time.Duration
}

type Result struct {
	Edited
	SourceBytes int
	Location    string
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Emitter stores an encoded result and returns where it went.
type Emitter interface {
	Emit(ctx context.Context, req Request, edited Edited) (string, error)
}

// Planner turns an instruction and the history of applied operations into
// the operations to run. *intent.Decoder implements it.
type Planner interface {
	Decode(ctx context.Context, instruction, history string) []domain.Operation
}

type Option func(*Processor)

// WithMaxPixels rejects sources whose header declares more pixels than n.
func WithMaxPixels(n int64) Option {
	return func(p *Processor) { p.maxPixels = n }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Processor) { p.logger = logger }
}

type Processor struct {
	fetcher   Fetcher
	planner   Planner
	emitter   Emitter
	editor    *Editor
	maxPixels int64
	logger    logrus.FieldLogger
	tracer    trace.Tracer
}

func NewProcessor(fetcher Fetcher, planner Planner, emitter Emitter, opts ...Option) *Processor {
	p := &Processor{
		fetcher: fetcher,
		planner: planner,
		emitter: emitter,
		logger:  logrus.StandardLogger(),
		tracer:  otel.Tracer("pixelprompt/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.editor = NewEditor(p.logger)
	return p
}

func NewLocalProcessor(outputDir string, planner Planner, opts ...Option) *Processor {
	return NewProcessor(LocalFileFetcher{}, planner, LocalFileEmitter{OutputDir: outputDir}, opts...)
}

// Edit decodes src, asks the planner what to do, applies it and encodes the
// result. Images that cannot be loaded fail before the planner is queried;
// an empty prompt is still sent to the planner.
func (p *Processor) Edit(ctx context.Context, src []byte, prompt, history, format string) (Edited, error) {
	start := time.Now()

	info, err := codec.CheckPixels(src, p.maxPixels)
	if err != nil {
		return Edited{}, fmt.Errorf("load stage: %w", err)
	}
	img, err := codec.Decode(src)
	if err != nil {
		return Edited{}, fmt.Errorf("load stage: %w", err)
	}
	p.logger.WithFields(logrus.Fields{
		"format": info.Format,
		"width":  img.Cols(),
		"height": img.Rows(),
	}).Debug("loaded source image")

	select {
	case <-ctx.Done():
		img.Close()
		return Edited{}, ctx.Err()
	default:
	}

	planCtx, planSpan := p.tracer.Start(ctx, "pipeline.plan")
	ops := p.planner.Decode(planCtx, prompt, history)
	planSpan.SetAttributes(attribute.Int("pipeline.operations", len(ops)))
	planSpan.End()

	runCtx, runSpan := p.tracer.Start(ctx, "pipeline.run")
	out, report, err := p.editor.Run(runCtx, img, ops)
	runSpan.SetAttributes(
		attribute.Int("pipeline.applied", len(report.Applied)),
		attribute.Int("pipeline.skipped", len(report.Skipped)),
	)
	runSpan.End()
	if err != nil {
		out.Close()
		return Edited{}, fmt.Errorf("edit stage: %w", err)
	}
	defer out.Close()

	_, encodeSpan := p.tracer.Start(ctx, "pipeline.encode", trace.WithAttributes(attribute.String("pipeline.format", format)))
	data, normalized, err := codec.Encode(out, format)
	encodeSpan.End()
	if err != nil {
		return Edited{}, fmt.Errorf("encode stage: %w", err)
	}

	return Edited{
		Data:       data,
		Format:     normalized,
		Operations: domain.Records(ops),
		Report:     report,
		Width:      out.Cols(),
		Height:     out.Rows(),
		Duration:   time.Since(start),
	}, nil
}

// Process runs fetch, edit and emit for one request.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	edited, err := p.Edit(ctx, sourceBytes, req.Prompt, req.History, req.Format)
	if err != nil {
		return Result{}, err
	}

	location, err := p.emitter.Emit(ctx, req, edited)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	return Result{
		Edited:      edited,
		SourceBytes: len(sourceBytes),
		Location:    location,
	}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, edited Edited) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputFilename(edited.Format))
	if err := os.WriteFile(fullPath, edited.Data, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}

func outputFilename(format string) string {
	return "edited_image." + codec.Extension(format)
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
