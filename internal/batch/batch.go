// Package batch implements the batch coordinator (C6): accept up to B_max
// file references under shared parameters, create one member job per valid
// file, and schedule them under a batch-local concurrency cap independent
// of the global worker ceiling, via errgroup.Group.SetLimit — the same
// bounded-fan-out primitive the teacher uses for its own multi-file
// operations, generalized here to gate submission into the shared worker
// pool rather than running work inline.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"transcriflow/internal/audioprobe"
	"transcriflow/internal/broker"
	"transcriflow/internal/models"
	"transcriflow/internal/store"

	"github.com/google/uuid"
)

const (
	// MaxBatchSize is B_max (spec §4.6/§6.4).
	MaxBatchSize = 10
	// MaxConcurrency is the absolute per-batch concurrency ceiling spec
	// §6.1 caps max_concurrent at, regardless of configuration.
	MaxConcurrency = 5
)

var (
	// ErrBatchTooLarge is returned when more than MaxBatchSize files are
	// submitted (spec §6.1 BATCH_TOO_LARGE).
	ErrBatchTooLarge = fmt.Errorf("batch exceeds maximum size of %d files", MaxBatchSize)
	// ErrNoValidFiles is returned when every file in the batch fails
	// validation (spec §6.1 NO_VALID_FILES).
	ErrNoValidFiles = fmt.Errorf("no valid files in batch")
)

// Submitter is the narrow interface the coordinator needs from the worker
// pool: persist-then-enqueue a single queued job.
type Submitter interface {
	Submit(jobID string) error
}

// Request is one batch submission.
type Request struct {
	FilePaths     []string
	Parameters    models.Parameters
	MaxConcurrent int
}

// Coordinator runs batch submissions against a job store and worker pool.
type Coordinator struct {
	store         *store.Store
	submitter     Submitter
	events        *broker.Broker
	maxConcurrent int // cfg.BatchMaxConcurrent (spec §6.4), clamped to MaxConcurrency
}

// New builds a Coordinator. maxConcurrent is the deployment's configured
// batch_max_concurrent (spec §6.4); it is both the cap applied to a
// caller-supplied max_concurrent and the default used when a request
// omits one. Values <= 0 or above MaxConcurrency fall back to
// MaxConcurrency.
func New(st *store.Store, submitter Submitter, events *broker.Broker, maxConcurrent int) *Coordinator {
	if maxConcurrent <= 0 || maxConcurrent > MaxConcurrency {
		maxConcurrent = MaxConcurrency
	}
	return &Coordinator{store: st, submitter: submitter, events: events, maxConcurrent: maxConcurrent}
}

// Submit validates the request, creates one job per valid file, and starts
// a background errgroup that feeds valid members into the worker pool
// MaxConcurrent at a time. It returns immediately with per-file acceptance
// summaries (spec §4.6 submit(batch)); the batch itself runs asynchronously.
func (c *Coordinator) Submit(ctx context.Context, req Request) (string, []models.MemberSummary, error) {
	if len(req.FilePaths) == 0 {
		return "", nil, ErrNoValidFiles
	}
	if len(req.FilePaths) > MaxBatchSize {
		return "", nil, ErrBatchTooLarge
	}

	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = c.maxConcurrent
	}
	if maxConcurrent > c.maxConcurrent {
		maxConcurrent = c.maxConcurrent
	}

	batchID := uuid.New().String()
	summaries := make([]models.MemberSummary, 0, len(req.FilePaths))
	var memberIDs []string

	for _, path := range req.FilePaths {
		summary := models.MemberSummary{FilePath: path}

		info, err := os.Stat(path)
		switch {
		case err != nil:
			summary.Valid = false
			summary.Reason = "file not found: " + err.Error()
		case info.IsDir():
			summary.Valid = false
			summary.Reason = "path is a directory, not a file"
		default:
			dur, derr := audioprobe.Duration(path)
			if derr != nil {
				summary.Valid = false
				summary.Reason = "could not read audio file: " + derr.Error()
				break
			}
			job := &models.Job{
				Kind:           models.KindBatchMember,
				SourcePath:     path,
				SourceFilename: filepath.Base(path),
				Status:         models.StatusQueued,
				Parameters:     req.Parameters,
				BatchID:        &batchID,
			}
			if cerr := c.store.Create(ctx, job); cerr != nil {
				summary.Valid = false
				summary.Reason = "failed to create job: " + cerr.Error()
				break
			}
			summary.Valid = true
			summary.JobID = job.ID
			summary.EstimatedDuration = dur
			memberIDs = append(memberIDs, job.ID)
		}
		summaries = append(summaries, summary)
	}

	if len(memberIDs) == 0 {
		return "", summaries, ErrNoValidFiles
	}

	c.run(memberIDs, maxConcurrent)
	return batchID, summaries, nil
}

// run feeds memberIDs into the worker pool maxConcurrent at a time: each
// goroutine submits one job, then blocks on its terminal event before
// returning, so the errgroup's limit is exactly the number of members
// in-flight at once, independent of the pool's own global ceiling (spec
// "at most min(max_concurrent, global_W) members in processing
// simultaneously").
func (c *Coordinator) run(memberIDs []string, maxConcurrent int) {
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrent)
	for _, id := range memberIDs {
		id := id
		g.Go(func() error {
			if err := c.submitter.Submit(id); err != nil {
				return nil
			}
			c.waitForTerminal(id)
			return nil
		})
	}
	go g.Wait()
}

func (c *Coordinator) waitForTerminal(jobID string) {
	ch, last := c.events.Subscribe(jobID)
	defer c.events.Unsubscribe(jobID, ch)
	if last != nil && last.IsTerminal() {
		return
	}
	for ev := range ch {
		if ev.IsTerminal() {
			return
		}
	}
}

// Aggregate derives the on-demand batch status view (spec §3 Batch
// "aggregate status view, derived not stored") by listing every job whose
// batch_id matches.
func (c *Coordinator) Aggregate(ctx context.Context, batchID string) (models.AggregateStatus, error) {
	jobs, err := c.store.List(ctx, store.Filter{})
	if err != nil {
		return models.AggregateStatus{}, err
	}

	agg := models.AggregateStatus{BatchID: batchID, ByStatus: map[string]int{}}
	for _, j := range jobs {
		if j.BatchID == nil || *j.BatchID != batchID {
			continue
		}
		agg.Total++
		agg.ByStatus[string(j.Status)]++
		if j.Status == models.StatusProcessing {
			agg.Processing++
		}
	}
	agg.Done = agg.Total > 0 && agg.Processing == 0 && agg.ByStatus[string(models.StatusQueued)] == 0
	return agg, nil
}
