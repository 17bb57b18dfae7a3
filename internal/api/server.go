package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelprompt/internal/codec"
	"github.com/dunamismax/pixelprompt/internal/domain"
	"github.com/dunamismax/pixelprompt/internal/id"
	"github.com/dunamismax/pixelprompt/internal/pipeline"
	"github.com/dunamismax/pixelprompt/internal/queue"
	"github.com/dunamismax/pixelprompt/internal/ratelimit"
	"github.com/dunamismax/pixelprompt/internal/storage"
	"github.com/dunamismax/pixelprompt/internal/store"
)

const (
	HeaderOperations = "X-Pixelprompt-Operations"

	defaultMaxUploadBytes = 32 << 20
	multipartMemory       = 8 << 20
)

type Server struct {
	logger                logrus.FieldLogger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	usage                 store.UsageStore
	storage               objectStorage
	editor                imageEditor
	presignTTL            time.Duration
	maxUploadBytes        int64
	rateLimiter           ratelimit.Limiter
	rateLimitUserIDHeader string
	tracer                trace.Tracer
	metrics               *metrics
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueEditImage(ctx context.Context, payload queue.EditImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// imageEditor is satisfied by *pipeline.Processor.
type imageEditor interface {
	Edit(ctx context.Context, src []byte, prompt, history, format string) (pipeline.Edited, error)
}

type Option func(*Server)

func WithStorage(storage objectStorage) Option {
	return func(s *Server) {
		if storage != nil {
			s.storage = storage
		}
	}
}

func WithEditor(editor imageEditor) Option {
	return func(s *Server) { s.editor = editor }
}

func WithUsageStore(usage store.UsageStore) Option {
	return func(s *Server) { s.usage = usage }
}

func WithPresignTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.presignTTL = ttl
		}
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithRateLimiter limits mutating routes per user, identified by header.
func WithRateLimiter(limiter ratelimit.Limiter, userIDHeader string) Option {
	return func(s *Server) {
		s.rateLimiter = limiter
		s.rateLimitUserIDHeader = userIDHeader
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

func NewServer(logger logrus.FieldLogger, queueClient queueEnqueuer, jobStore store.JobStore, opts ...Option) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               unavailableObjectStorage{},
		presignTTL:            15 * time.Minute,
		maxUploadBytes:        defaultMaxUploadBytes,
		rateLimitUserIDHeader: "X-User-ID",
		metrics:               newMetrics(),
		mux:                   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /edit-image", s.handleEditImage)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEditImage runs an edit inline and streams the encoded image back.
func (s *Server) handleEditImage(w http.ResponseWriter, r *http.Request) {
	if s.editor == nil {
		writeError(w, http.StatusServiceUnavailable, "synchronous editing is disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form body")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	src, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image upload")
		return
	}

	edited, err := s.editor.Edit(r.Context(), src, prompt, r.FormValue("history"), r.FormValue("format"))
	if err != nil {
		s.writeEditError(w, err)
		return
	}

	s.metrics.observeOperations(edited.Report.Applied, edited.Report.Skipped)
	s.metrics.editDuration.Observe(edited.Duration.Seconds())
	s.recordUsage(r.Context(), domain.UsageLog{
		UserID:            userID(r, s.rateLimitUserIDHeader),
		PixelsProcessed:   int64(edited.Width) * int64(edited.Height),
		OperationsApplied: len(edited.Report.Applied),
		OperationsSkipped: len(edited.Report.Skipped),
		ComputeTimeMS:     edited.Duration.Milliseconds(),
	})

	applied, _ := json.Marshal(edited.Report.Applied)
	w.Header().Set("Content-Type", codec.ContentType(edited.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=edited_image.%s", codec.Extension(edited.Format)))
	w.Header().Set(HeaderOperations, string(applied))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(edited.Data)
}

func (s *Server) writeEditError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, codec.ErrUnsupportedImage):
		writeError(w, http.StatusUnsupportedMediaType, "image could not be decoded")
	case errors.Is(err, codec.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "image dimensions exceed limit")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "edit cancelled")
	default:
		s.logger.WithError(err).Error("synchronous edit failed")
		writeError(w, http.StatusInternalServerError, "edit failed")
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:          id.New(),
		UserID:      userID(r, s.rateLimitUserIDHeader),
		ParentJobID: strings.TrimSpace(req.ParentJobID),
		Status:      domain.JobStatusCreated,
		SourceType:  strings.ToLower(strings.TrimSpace(req.SourceType)),
		ObjectKey:   strings.TrimSpace(req.ObjectKey),
		Prompt:      strings.TrimSpace(req.Prompt),
		Format:      domain.NormalizeFormat(req.Format),
		WebhookURL:  strings.TrimSpace(req.WebhookURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if job.ParentJobID != "" {
		if status, msg := s.chainFromParent(r.Context(), &job); status != 0 {
			writeError(w, status, msg)
			return
		}
	}

	uploadState := "not_required"
	presignedPutURL := ""
	if job.SourceType == domain.SourceTypeS3Presigned && job.ObjectKey == "" {
		job.ObjectKey = storage.UploadKey(job.ID)
		url, err := s.storage.PresignedPutURL(r.Context(), job.ObjectKey, s.presignTTL)
		if err != nil {
			s.logger.WithError(err).WithField("job_id", job.ID).Error("generate presigned url failed")
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":        job.ID,
		"parent_job_id": job.ParentJobID,
		"status":        job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url":  fmt.Sprintf("/v1/jobs/%s/start", job.ID),
		"status_url": fmt.Sprintf("/v1/jobs/%s", job.ID),
	})
}

// chainFromParent makes job edit the parent's output, carrying the parent's
// applied operations forward as history. A non-zero status means failure.
func (s *Server) chainFromParent(ctx context.Context, job *domain.Job) (int, string) {
	parent, ok, err := s.jobStore.Get(ctx, job.ParentJobID)
	if err != nil {
		s.logger.WithError(err).WithField("parent_job_id", job.ParentJobID).Error("load parent job failed")
		return http.StatusInternalServerError, "failed to load parent job"
	}
	if !ok {
		return http.StatusNotFound, "parent job not found"
	}
	if parent.Status != domain.JobStatusSucceeded {
		return http.StatusConflict, "parent job has not succeeded"
	}

	job.History = domain.AppendHistory(parent.History, parent.Operations)
	if job.ObjectKey == "" {
		job.SourceType = parent.SourceType
		job.ObjectKey = parent.OutputKey
	}
	if job.SourceType == "" {
		job.SourceType = parent.SourceType
	}
	return 0, ""
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Error("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != domain.JobStatusCreated && job.Status != domain.JobStatusFailed {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	var failedAt time.Time
	if job.Status == domain.JobStatusFailed {
		failedAt = job.UpdatedAt
	}
	payload := queue.EditImagePayload{
		TaskID:      queue.TaskID(job.ID, failedAt),
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		ObjectKey:   job.ObjectKey,
		Prompt:      job.Prompt,
		History:     job.History,
		Format:      job.Format,
		WebhookURL:  job.WebhookURL,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueEditImage(r.Context(), payload)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeError(w, http.StatusConflict, "job is already queued")
			return
		}
		s.logger.WithError(err).WithField("job_id", job.ID).Error("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

type jobResponse struct {
	JobID       string                   `json:"job_id"`
	ParentJobID string                   `json:"parent_job_id,omitempty"`
	Status      string                   `json:"status"`
	SourceType  string                   `json:"source_type"`
	ObjectKey   string                   `json:"object_key"`
	Prompt      string                   `json:"prompt"`
	Format      string                   `json:"format"`
	Operations  []domain.OperationRecord `json:"operations"`
	OutputKey   string                   `json:"output_key,omitempty"`
	OutputURL   string                   `json:"output_url,omitempty"`
	Error       string                   `json:"error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Error("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobResponse{
		JobID:       job.ID,
		ParentJobID: job.ParentJobID,
		Status:      job.Status,
		SourceType:  job.SourceType,
		ObjectKey:   job.ObjectKey,
		Prompt:      job.Prompt,
		Format:      job.Format,
		Operations:  job.Operations,
		OutputKey:   job.OutputKey,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if resp.Operations == nil {
		resp.Operations = []domain.OperationRecord{}
	}

	if job.Status == domain.JobStatusSucceeded && job.SourceType == domain.SourceTypeS3Presigned && job.OutputKey != "" {
		url, err := s.storage.PresignedGetURL(r.Context(), job.OutputKey, s.presignTTL)
		if err != nil {
			s.logger.WithError(err).WithField("job_id", job.ID).Warn("presign output url failed")
		} else {
			resp.OutputURL = url
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func (s *Server) recordUsage(ctx context.Context, usage domain.UsageLog) {
	if s.usage == nil {
		return
	}
	if err := s.usage.RecordUsage(ctx, usage); err != nil {
		s.logger.WithError(err).WithField("user_id", usage.UserID).Warn("record usage failed")
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
