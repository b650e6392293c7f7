// Package worker implements the worker pool (C5): it drives a single job
// from queued to a terminal state and enforces the process-wide
// concurrency ceiling W. Grounded in the teacher's internal/queue.TaskQueue
// (fixed worker goroutines draining a buffered job channel, a
// runningJobs-style map for in-flight bookkeeping) but with auto-scaling
// dropped — spec §4.5 specifies a fixed ceiling, not elastic scaling —
// and the update/publish path narrowed to go exclusively through the job
// store (spec "Workers never publish directly").
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transcriflow/internal/artifact"
	"transcriflow/internal/cancel"
	"transcriflow/internal/engine/asr"
	"transcriflow/internal/engine/diar"
	"transcriflow/internal/merge"
	"transcriflow/internal/models"
	"transcriflow/internal/store"
	"transcriflow/pkg/logger"
)

// Transcriber is the narrow interface the pool drives for C3a, satisfied
// by *asr.Adapter.
type Transcriber interface {
	Transcribe(ctx context.Context, source string, params asr.Params, cancelCh <-chan struct{}, sink asr.ProgressSink) (models.RawTranscription, error)
}

// Diarizer is the narrow interface the pool drives for C3b, satisfied by
// *diar.Adapter. A nil Diarizer means diarization is unconditionally
// unavailable (e.g. no hf_token configured, spec §6.4).
type Diarizer interface {
	Diarize(ctx context.Context, source string) ([]models.DiarizationTurn, error)
}

// Config bundles the pool's tunables.
type Config struct {
	Concurrency    int           // W, default 2 (spec §4.5)
	DefaultTimeout time.Duration // per-job engine timeout (spec §4.3/§6.4)
	QueueDepth     int           // submission channel buffer
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = asr.DefaultTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1024
	}
	return c
}

// Pool is the bounded worker pool driving the job state machine.
type Pool struct {
	cfg         Config
	store       *store.Store
	cancels     *cancel.Registry
	transcriber Transcriber
	diarizer    Diarizer
	artifacts   *artifact.Store

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	active  int
}

// New builds a Pool. diarizer may be nil (diarization always soft-fails).
func New(cfg Config, st *store.Store, cancels *cancel.Registry, transcriber Transcriber, diarizer Diarizer, artifacts *artifact.Store) *Pool {
	cfg = cfg.withDefaults()
	ctx, cancelFn := context.WithCancel(context.Background())
	return &Pool{
		cfg:         cfg,
		store:       st,
		cancels:     cancels,
		transcriber: transcriber,
		diarizer:    diarizer,
		artifacts:   artifacts,
		queue:       make(chan string, cfg.QueueDepth),
		ctx:         ctx,
		cancel:      cancelFn,
	}
}

// Start launches the fixed pool of W worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop cancels the pool context (from which in-flight engine calls and
// store updates derive), closes the queue so workers stop taking new work,
// and waits for every worker goroutine to return.
func (p *Pool) Stop() {
	p.cancel()
	close(p.queue)
	p.wg.Wait()
}

// Submit enqueues a queued job for processing. The caller must have
// already persisted the job as status=queued (spec C9 -> C1 -> C5 flow).
// Submission order is FIFO across the whole pool: the channel preserves
// the order jobs are submitted in, which is creation order, matching
// spec §4.5 "remains queued until a slot frees (FIFO by created_at)".
func (p *Pool) Submit(jobID string) error {
	select {
	case p.queue <- jobID:
		return nil
	case <-p.ctx.Done():
		return errors.New("worker pool is shutting down")
	}
}

// CancelOutcome is the result of a cancellation request against the job's
// current state.
type CancelOutcome int

const (
	// CancelApplied means the job moved (or will imminently move) to
	// cancelled.
	CancelApplied CancelOutcome = iota
	// CancelNotCancelable means the job is already terminal.
	CancelNotCancelable
	// CancelNotFound means no such job exists.
	CancelNotFound
)

// Cancel implements spec §6's cancellation contract: a still-queued job is
// transitioned directly; an in-flight job is signalled through the
// cancellation registry and the worker itself performs the transition once
// it observes the token.
func (p *Pool) Cancel(ctx context.Context, jobID, reason string) (CancelOutcome, error) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return CancelNotFound, err
	}
	if job == nil {
		return CancelNotFound, nil
	}
	if job.Status.IsTerminal() {
		return CancelNotCancelable, nil
	}

	if p.cancels.IsRegistered(jobID) {
		if p.cancels.Cancel(jobID, reason) == cancel.Cancelled {
			return CancelApplied, nil
		}
		return CancelNotCancelable, nil
	}

	// Not yet claimed by a worker: cancel directly from queued.
	_, err = p.storeUpdateWithRetry(ctx, jobID, func(j *models.Job) error {
		if j.Status.IsTerminal() {
			return fmt.Errorf("job %s already terminal", jobID)
		}
		j.Status = models.StatusCancelled
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrIllegalTransition) {
			return CancelNotCancelable, nil
		}
		return CancelNotCancelable, err
	}
	logger.JobCancelled(jobID, reason)
	return CancelApplied, nil
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case jobID, ok := <-p.queue:
			if !ok {
				return
			}
			p.statsMu.Lock()
			p.active++
			p.statsMu.Unlock()

			p.process(workerID, jobID)

			p.statsMu.Lock()
			p.active--
			p.statsMu.Unlock()
		case <-p.ctx.Done():
			return
		}
	}
}

// Stats is the on-demand snapshot the agent-tool progress query
// (spec §6.1 get_transcription_progress with all_jobs=true) reports.
type Stats struct {
	Queued        int `json:"queued"`
	Processing    int `json:"processing"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
	ActiveWorkers int `json:"active_workers"`
	MaxWorkers    int `json:"max_workers"`
	QueueDepth    int `json:"queue_depth"`
}

// Stats gathers per-status counts from the store plus the pool's own
// in-flight worker count.
func (p *Pool) Stats(ctx context.Context) (Stats, error) {
	jobs, err := p.store.List(ctx, store.Filter{})
	if err != nil {
		return Stats{}, err
	}
	s := Stats{MaxWorkers: p.cfg.Concurrency, QueueDepth: len(p.queue)}
	for _, j := range jobs {
		switch j.Status {
		case models.StatusQueued:
			s.Queued++
		case models.StatusProcessing:
			s.Processing++
		case models.StatusCompleted:
			s.Completed++
		case models.StatusFailed:
			s.Failed++
		case models.StatusCancelled:
			s.Cancelled++
		}
	}
	p.statsMu.Lock()
	s.ActiveWorkers = p.active
	p.statsMu.Unlock()
	return s, nil
}

// storeSink adapts the job store into an asr.ProgressSink: every
// checkpoint goes through Store.Update, which is the only component
// allowed to publish to the broker (spec §4.5 progress discipline).
type storeSink struct {
	ctx   context.Context
	pool  *Pool
	jobID string
}

func (s *storeSink) Report(progress int, message string) {
	_, err := s.pool.storeUpdateWithRetry(s.ctx, s.jobID, func(j *models.Job) error {
		if progress > j.Progress {
			j.Progress = progress
		}
		j.ProgressMessage = message
		return nil
	})
	if err != nil {
		logger.Warn("failed to persist progress checkpoint", "job_id", s.jobID, "error", err)
	}
}

// process drives one job through the stage pipeline in spec §4.5.
func (p *Pool) process(workerID int, jobID string) {
	ctx := p.ctx
	job, err := p.store.Get(ctx, jobID)
	if err != nil || job == nil {
		logger.Error("worker could not load claimed job", "worker_id", workerID, "job_id", jobID, "error", err)
		return
	}
	if job.Status.IsTerminal() {
		// Cancelled (or otherwise resolved) while still queued.
		return
	}

	token := p.cancels.Register(jobID)
	defer p.cancels.Unregister(jobID)

	logger.WorkerOperation(workerID, jobID, "claim")
	job, err = p.storeUpdateWithRetry(ctx, jobID, func(j *models.Job) error {
		j.Status = models.StatusProcessing
		j.Progress = 1
		j.ProgressMessage = "initializing"
		return nil
	})
	if err != nil {
		logger.Error("failed to transition job to processing", "job_id", jobID, "error", err)
		p.escalateToServerFailure(ctx, jobID, err)
		return
	}

	if token.Cancelled() {
		p.markCancelled(ctx, jobID)
		return
	}

	start := time.Now()
	logger.JobStarted(jobID, job.SourceFilename, job.Parameters.ModelSize, nil)

	timeout := asr.ClampTimeout(p.cfg.DefaultTimeout)
	engineCtx, engineCancel := context.WithTimeout(ctx, timeout)
	defer engineCancel()

	sink := &storeSink{ctx: ctx, pool: p, jobID: jobID}
	params := asr.Params{
		ModelSize:   job.Parameters.ModelSize,
		Language:    job.Parameters.Language,
		Device:      job.Parameters.Device,
		ComputeType: job.Parameters.ComputeType,
	}

	raw, err := p.transcriber.Transcribe(engineCtx, job.SourcePath, params, token.Done(), sink)
	if err != nil {
		if token.Cancelled() || errors.Is(err, asr.ErrCancelled) {
			p.markCancelled(ctx, jobID)
			return
		}
		p.markFailed(ctx, jobID, classifyEngineError(err))
		logger.JobFailed(jobID, time.Since(start), err)
		return
	}

	var turns []models.DiarizationTurn
	diarNote := ""
	if job.Parameters.EnableDiarize {
		if token.Cancelled() {
			p.markCancelled(ctx, jobID)
			return
		}
		if p.diarizer == nil {
			diarNote = "diarization unavailable: no diarization pipeline configured"
		} else {
			diarCtx, diarCancel := context.WithCancel(engineCtx)
			go func() {
				select {
				case <-token.Done():
					diarCancel()
				case <-diarCtx.Done():
				}
			}()
			turns, err = p.diarizer.Diarize(diarCtx, job.SourcePath)
			diarCancel()
			if err != nil {
				switch {
				case errors.Is(err, diar.ErrUnavailable):
					diarNote = "diarization unavailable: " + err.Error()
				case token.Cancelled():
					p.markCancelled(ctx, jobID)
					return
				default:
					p.markFailed(ctx, jobID, models.JobError{Kind: models.ErrKindProcessing, Message: err.Error()})
					return
				}
			}
		}
	}
	sink.Report(85, "diarization complete")

	segs, speakers := merge.Segments(raw.Segments, turns)
	sink.Report(95, "formatting")

	realtime := 0.0
	if raw.ProcessingSeconds > 0 {
		realtime = raw.AudioSeconds / raw.ProcessingSeconds
	}

	art := models.TranscriptionArtifact{
		JobID:    jobID,
		Text:     raw.Text,
		Language: firstNonEmpty(job.Parameters.Language, raw.Language),
		Segments: segs,
		Speakers: speakers,
		Metadata: models.ArtifactMetadata{
			Model:             job.Parameters.ModelSize,
			Device:            raw.Device,
			ProcessingSeconds: raw.ProcessingSeconds,
			AudioSeconds:      raw.AudioSeconds,
			RealtimeFactor:    realtime,
			DiarizationNote:   diarNote,
		},
	}

	ref, err := p.artifacts.Save(jobID, art)
	if err != nil {
		p.markFailed(ctx, jobID, models.JobError{Kind: models.ErrKindServer, Message: fmt.Sprintf("persist artifact: %v", err)})
		return
	}

	_, err = p.storeUpdateWithRetry(ctx, jobID, func(j *models.Job) error {
		j.Status = models.StatusCompleted
		j.Progress = 100
		j.ProgressMessage = "completed"
		j.ResultRef = &ref
		return nil
	})
	if err != nil {
		logger.Error("failed to persist completed job", "job_id", jobID, "error", err)
		p.escalateToServerFailure(ctx, jobID, err)
		return
	}
	logger.JobCompleted(jobID, time.Since(start), art.Metadata)
}

func (p *Pool) markCancelled(ctx context.Context, jobID string) {
	_, err := p.storeUpdateWithRetry(ctx, jobID, func(j *models.Job) error {
		j.Status = models.StatusCancelled
		return nil
	})
	if err != nil {
		logger.Error("failed to persist cancellation", "job_id", jobID, "error", err)
		return
	}
	logger.JobCancelled(jobID, "cancelled during processing")
}

func (p *Pool) markFailed(ctx context.Context, jobID string, jobErr models.JobError) {
	_, err := p.storeUpdateWithRetry(ctx, jobID, func(j *models.Job) error {
		j.Status = models.StatusFailed
		j.SetError(jobErr)
		return nil
	})
	if err != nil {
		logger.Error("failed to persist failure", "job_id", jobID, "error", err)
	}
}

// escalateToServerFailure implements spec §7's bounded-retry-then-escalate
// policy for store failures: storeUpdateWithRetry already retried with
// backoff, so reaching here means persistent failure; log it as critical
// and make a best-effort final attempt to flip the job to failed.
func (p *Pool) escalateToServerFailure(ctx context.Context, jobID string, cause error) {
	logger.Error("critical: store update exhausted retries", "job_id", jobID, "error", cause)
	_, _ = p.store.Update(ctx, jobID, func(j *models.Job) error {
		j.Status = models.StatusFailed
		j.SetError(models.JobError{Kind: models.ErrKindServer, Message: "store update failed: " + cause.Error()})
		return nil
	})
}

// storeUpdateWithRetry wraps Store.Update with bounded exponential
// backoff (spec §7 "Store failures during update are retried with
// exponential backoff (bounded)"). Domain errors (ErrNotFound,
// ErrIllegalTransition) are not retried — only opaque I/O-shaped errors
// from the underlying database are.
func (p *Pool) storeUpdateWithRetry(ctx context.Context, jobID string, mutate store.Mutator) (*models.Job, error) {
	const maxAttempts = 4
	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var mutateErr error
		job, err := p.store.Update(ctx, jobID, func(j *models.Job) error {
			mutateErr = mutate(j)
			return mutateErr
		})
		if err == nil {
			return job, nil
		}
		if mutateErr != nil || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrIllegalTransition) {
			return nil, err
		}
		lastErr = err
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, lastErr
}

func classifyEngineError(err error) models.JobError {
	switch {
	case errors.Is(err, asr.ErrTimeout):
		return models.JobError{Kind: models.ErrKindProcessing, Message: err.Error()}
	case errors.Is(err, asr.ErrEngineFailed):
		return models.JobError{Kind: models.ErrKindProcessing, Message: err.Error()}
	default:
		return models.JobError{Kind: models.ErrKindServer, Message: err.Error()}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
