package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelprompt/internal/codec"
	"github.com/dunamismax/pixelprompt/internal/domain"
	"github.com/dunamismax/pixelprompt/internal/storage"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

// ObjectStore is the slice of *storage.Client the stages need.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, obj storage.Object) error
}

// ObjectStoreFetcher reads job sources uploaded through presigned URLs.
type ObjectStoreFetcher struct {
	Storage  ObjectStore
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey, f.MaxBytes)
}

// ObjectStoreEmitter writes results under OutputPrefix/<job>/ with the
// applied operations attached as object metadata.
type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, edited Edited) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}

	objectKey := OutputKey(e.OutputPrefix, req.JobID, edited.Format)
	err := e.Storage.WriteObject(ctx, objectKey, storage.Object{
		Data:        edited.Data,
		ContentType: codec.ContentType(edited.Format),
		Filename:    outputFilename(edited.Format),
		Metadata:    resultMetadata(req, edited),
	})
	if err != nil {
		return "", err
	}
	return objectKey, nil
}

func resultMetadata(req Request, edited Edited) map[string]string {
	meta := map[string]string{
		"job-id": req.JobID,
		"width":  strconv.Itoa(edited.Width),
		"height": strconv.Itoa(edited.Height),
	}
	if applied, err := json.Marshal(edited.Report.Applied); err == nil {
		meta["operations"] = string(applied)
	}
	return meta
}

// OutputKey is where a job's edited image is stored.
func OutputKey(prefix, jobID, format string) string {
	return path.Join(
		defaultOutputPrefix(prefix),
		sanitizePathToken(jobID),
		outputFilename(format),
	)
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
