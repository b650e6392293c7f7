// Package orchestrator is the narrow facade both surface adapters (§6.1
// agent-tool, §6.2 HTTP/SSE) bind to: it wires together the durable store
// (C1), the worker pool (C5), the batch coordinator (C6), the
// cancellation registry (C7), and the artifact store, and carries the
// input-validation rules spec §6.1's error-kind columns describe
// (FILE_NOT_FOUND, INVALID_FILE, UNSUPPORTED_FORMAT, FILE_TOO_LARGE,
// INVALID_PARAMETERS). Neither surface adapter talks to C1/C5/C6/C7
// directly — this is the one seam where "the dual exposure modes are
// surface adapters around the same core" (spec §1) is enforced in code,
// matching §9's design note to wire explicit components at startup rather
// than instantiate per-request globals.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcriflow/internal/artifact"
	"transcriflow/internal/audioprobe"
	"transcriflow/internal/batch"
	"transcriflow/internal/broker"
	"transcriflow/internal/config"
	"transcriflow/internal/models"
	"transcriflow/internal/store"
	"transcriflow/internal/worker"
)

// validModelSizes mirrors the teacher's whisper model size enumeration
// (internal/transcription/whisperx.go's supported-model list).
var validModelSizes = map[string]bool{
	"tiny": true, "tiny.en": true,
	"base": true, "base.en": true,
	"small": true, "small.en": true,
	"medium": true, "medium.en": true,
	"large": true, "large-v1": true, "large-v2": true, "large-v3": true,
}

// Core wires the orchestration components together. Both internal/httpapi
// and internal/mcptools hold one of these and never reach into the
// components it wraps directly.
type Core struct {
	Store     *store.Store
	Pool      *worker.Pool
	Batch     *batch.Coordinator
	Artifacts *artifact.Store
	Events    *broker.Broker
	Config    *config.Config
}

// New builds a Core from already-constructed components.
func New(st *store.Store, pool *worker.Pool, bc *batch.Coordinator, artifacts *artifact.Store, events *broker.Broker, cfg *config.Config) *Core {
	return &Core{Store: st, Pool: pool, Batch: bc, Artifacts: artifacts, Events: events, Config: cfg}
}

// Subscribe exposes the progress broker to surface adapters that need a
// live stream (spec §6.2's SSE endpoint); request/response-only surfaces
// (the agent-tool progress query) read the store directly instead.
func (c *Core) Subscribe(jobID string) (chan models.ProgressEvent, *models.ProgressEvent) {
	return c.Events.Subscribe(jobID)
}

// Unsubscribe is the paired cleanup call for Subscribe.
func (c *Core) Unsubscribe(jobID string, ch chan models.ProgressEvent) {
	c.Events.Unsubscribe(jobID, ch)
}

// SubmitRequest is a single-file submission (spec §6.1 transcribe_audio).
type SubmitRequest struct {
	FilePath      string
	ModelSize     string
	Language      string
	EnableDiarize bool
	Device        string
	ComputeType   string
	OutputFormat  string
}

// normalize applies the tool's documented defaults (spec §6.1's table:
// output_format default detailed) plus the deployment-wide config.Config
// fallbacks for whisper_model and device/use_gpu (spec §6.4) when a
// request leaves them unset. The enable_diarization default is applied by
// the surface adapters when they parse a request, not here.
func (r *SubmitRequest) normalize(cfg *config.Config) {
	if r.ModelSize == "" {
		r.ModelSize = cfg.WhisperModel
	}
	if r.OutputFormat == "" {
		r.OutputFormat = "detailed"
	}
	if r.Device == "" {
		r.Device = cfg.DefaultDevice()
	}
}

// ValidationError wraps the Code constants from apierrors without this
// package importing apierrors directly, keeping the validation rules
// reusable by any future surface that wants its own error presentation.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErr(code, msg string) error {
	return &ValidationError{Code: code, Message: msg}
}

// validateFile applies spec §6.1's file-acceptance rules: existence,
// not-a-directory, supported extension, and size <= max_file_size (spec
// §8 boundary: "File size exactly max_file_size: accepted;
// max_file_size + 1: rejected").
func (c *Core) validateFile(path string) error {
	if path == "" {
		return validationErr("INVALID_PARAMETERS", "file_path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return validationErr("FILE_NOT_FOUND", fmt.Sprintf("file not found: %s", path))
	}
	if info.IsDir() {
		return validationErr("INVALID_FILE", "path is a directory, not a file")
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if !c.Config.IsSupportedFormat(ext) {
		return validationErr("UNSUPPORTED_FORMAT", fmt.Sprintf("unsupported audio format: %q", ext))
	}
	if info.Size() > c.Config.MaxFileSizeBytes {
		return validationErr("FILE_TOO_LARGE", fmt.Sprintf("file size %d exceeds the %d byte limit", info.Size(), c.Config.MaxFileSizeBytes))
	}
	return nil
}

func (c *Core) validateParameters(modelSize string) error {
	if modelSize != "" && !validModelSizes[modelSize] {
		return validationErr("INVALID_PARAMETERS", fmt.Sprintf("unrecognized model_size %q", modelSize))
	}
	return nil
}

// SubmitSingle validates and persists a single-file job as queued, then
// hands it to the worker pool (spec §1 flow: "a submission enters ...
// is validated and written to C1 as a queued job, and scheduled on C5").
func (c *Core) SubmitSingle(ctx context.Context, req SubmitRequest) (*models.Job, float64, error) {
	req.normalize(c.Config)
	if err := c.validateFile(req.FilePath); err != nil {
		return nil, 0, err
	}
	if err := c.validateParameters(req.ModelSize); err != nil {
		return nil, 0, err
	}

	estimated, err := audioprobe.Duration(req.FilePath)
	if err != nil {
		return nil, 0, validationErr("INVALID_FILE", "could not read audio file: "+err.Error())
	}

	job := &models.Job{
		Kind:           models.KindSingle,
		SourcePath:     req.FilePath,
		SourceFilename: filepath.Base(req.FilePath),
		Status:         models.StatusQueued,
		Parameters: models.Parameters{
			ModelSize:     req.ModelSize,
			Language:      req.Language,
			EnableDiarize: req.EnableDiarize,
			Device:        req.Device,
			ComputeType:   req.ComputeType,
			OutputFormat:  req.OutputFormat,
		},
	}
	if err := c.Store.Create(ctx, job); err != nil {
		return nil, 0, err
	}
	if err := c.Pool.Submit(job.ID); err != nil {
		return nil, 0, err
	}
	return job, estimated, nil
}

// GetJob returns the current job record, or nil if absent.
func (c *Core) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return c.Store.Get(ctx, jobID)
}

// ListFilter narrows ListJobs (spec §6.1 list_transcription_history).
type ListFilter struct {
	Status      *models.JobStatus
	DateFrom    *time.Time
	DateTo      *time.Time
	SearchQuery string
	Limit       int
}

// ListJobs applies ListFilter on top of store.Store.List, adding the
// date-range and filename-substring filtering the job store's own Filter
// type does not carry (spec §6.1 list_transcription_history's
// date_from/date_to/search_query).
func (c *Core) ListJobs(ctx context.Context, f ListFilter) ([]models.Job, int, error) {
	jobs, err := c.Store.List(ctx, store.Filter{Status: f.Status})
	if err != nil {
		return nil, 0, err
	}

	filtered := make([]models.Job, 0, len(jobs))
	for _, j := range jobs {
		if f.DateFrom != nil && j.CreatedAt.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && j.CreatedAt.After(*f.DateTo) {
			continue
		}
		if f.SearchQuery != "" && !strings.Contains(strings.ToLower(j.SourceFilename), strings.ToLower(f.SearchQuery)) {
			continue
		}
		filtered = append(filtered, j)
	}
	total := len(jobs)
	if f.Limit > 0 && len(filtered) > f.Limit {
		filtered = filtered[:f.Limit]
	}
	return filtered, total, nil
}

// GetArtifact loads the completed job's transcription artifact.
func (c *Core) GetArtifact(ctx context.Context, jobID string) (*models.Job, *models.TranscriptionArtifact, error) {
	job, err := c.Store.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, validationErr("JOB_NOT_FOUND", "no such job")
	}
	if job.Status != models.StatusCompleted {
		return job, nil, validationErr("JOB_NOT_COMPLETED", fmt.Sprintf("job is %s, not completed", job.Status))
	}
	if job.ResultRef == nil {
		return job, nil, validationErr("RESULT_NOT_FOUND", "completed job has no result reference")
	}
	art, err := c.Artifacts.Load(*job.ResultRef)
	if err != nil {
		return job, nil, validationErr("RESULT_NOT_FOUND", "stored artifact is missing: "+err.Error())
	}
	return job, &art, nil
}

// Cancel delegates to the worker pool's cancellation contract.
func (c *Core) Cancel(ctx context.Context, jobID, reason string) (worker.CancelOutcome, error) {
	return c.Pool.Cancel(ctx, jobID, reason)
}

// Stats reports the worker pool's on-demand snapshot (spec §6.1
// get_transcription_progress all_jobs=true).
func (c *Core) Stats(ctx context.Context) (worker.Stats, error) {
	return c.Pool.Stats(ctx)
}

// SubmitBatchRequest is a batch submission (spec §6.1 batch_transcribe).
type SubmitBatchRequest struct {
	FilePaths     []string
	Parameters    SubmitRequest // shared parameters, FilePath ignored
	MaxConcurrent int
}

// SubmitBatch validates size bounds and delegates per-file creation to the
// batch coordinator (which applies its own file-existence checks per
// member; spec §6.1 batch_transcribe reports valid_files/invalid_files
// rather than rejecting the whole batch for one bad path).
func (c *Core) SubmitBatch(ctx context.Context, req SubmitBatchRequest) (string, []models.MemberSummary, error) {
	if len(req.FilePaths) == 0 {
		return "", nil, validationErr("NO_VALID_FILES", "no files submitted")
	}
	if len(req.FilePaths) > batch.MaxBatchSize {
		return "", nil, validationErr("BATCH_TOO_LARGE", fmt.Sprintf("batch of %d exceeds the maximum of %d files", len(req.FilePaths), batch.MaxBatchSize))
	}
	if err := c.validateParameters(req.Parameters.ModelSize); err != nil {
		return "", nil, err
	}
	req.Parameters.normalize(c.Config)

	params := models.Parameters{
		ModelSize:     req.Parameters.ModelSize,
		Language:      req.Parameters.Language,
		EnableDiarize: req.Parameters.EnableDiarize,
		Device:        req.Parameters.Device,
		ComputeType:   req.Parameters.ComputeType,
		OutputFormat:  req.Parameters.OutputFormat,
	}
	batchID, summaries, err := c.Batch.Submit(ctx, batch.Request{
		FilePaths:     req.FilePaths,
		Parameters:    params,
		MaxConcurrent: req.MaxConcurrent,
	})
	if err != nil {
		switch err {
		case batch.ErrBatchTooLarge:
			return "", summaries, validationErr("BATCH_TOO_LARGE", err.Error())
		case batch.ErrNoValidFiles:
			return "", summaries, validationErr("NO_VALID_FILES", err.Error())
		default:
			return "", summaries, err
		}
	}
	return batchID, summaries, nil
}

// BatchAggregate delegates to the batch coordinator's derived view.
func (c *Core) BatchAggregate(ctx context.Context, batchID string) (models.AggregateStatus, error) {
	return c.Batch.Aggregate(ctx, batchID)
}
