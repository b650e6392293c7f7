package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"transcriflow/internal/artifact"
	"transcriflow/internal/broker"
	"transcriflow/internal/cancel"
	"transcriflow/internal/engine/asr"
	"transcriflow/internal/engine/diar"
	"transcriflow/internal/models"
	"transcriflow/internal/store"
)

func newTestStore(t *testing.T, pub store.Publisher) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.NewInMemory(db, pub)
	require.NoError(t, err)
	return st
}

type fakeTranscriber struct {
	raw models.RawTranscription
	err error
	// cancelRespects, when set, makes Transcribe wait up to 2s and return
	// asr.ErrCancelled as soon as the caller's cancel channel fires.
	cancelRespects bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, source string, params asr.Params, cancelCh <-chan struct{}, sink asr.ProgressSink) (models.RawTranscription, error) {
	sink.Report(30, "transcribing")
	if f.cancelRespects {
		select {
		case <-cancelCh:
			return models.RawTranscription{}, asr.ErrCancelled
		case <-time.After(2 * time.Second):
		}
	}
	if f.err != nil {
		return models.RawTranscription{}, f.err
	}
	return f.raw, nil
}

type fakeDiarizer struct {
	turns []models.DiarizationTurn
	err   error
}

func (f *fakeDiarizer) Diarize(ctx context.Context, source string) ([]models.DiarizationTurn, error) {
	return f.turns, f.err
}

func waitForTerminal(t *testing.T, st *store.Store, jobID string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := st.Get(context.Background(), jobID)
		require.NoError(t, err)
		if j != nil && j.Status.IsTerminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func submitQueuedJob(t *testing.T, st *store.Store, enableDiarize bool) *models.Job {
	t.Helper()
	job := &models.Job{
		SourcePath:     "/tmp/fake.wav",
		SourceFilename: "fake.wav",
		Status:         models.StatusQueued,
		Parameters: models.Parameters{
			ModelSize:     "base",
			EnableDiarize: enableDiarize,
		},
	}
	require.NoError(t, st.Create(context.Background(), job))
	return job
}

func TestPoolHappyPathCompletesJob(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	dir := t.TempDir()

	transcriber := &fakeTranscriber{raw: models.RawTranscription{
		Text:              "hello world",
		Language:          "en",
		ProcessingSeconds: 1,
		AudioSeconds:      2,
		Device:            "cpu",
		Segments: []models.Segment{
			{StartSec: 0, EndSec: 1, Text: "hello"},
			{StartSec: 1, EndSec: 2, Text: "world"},
		},
	}}
	diarizer := &fakeDiarizer{turns: []models.DiarizationTurn{
		{StartSec: 0, EndSec: 2, Speaker: "SPEAKER_00"},
	}}

	pool := New(Config{Concurrency: 1, DefaultTimeout: time.Minute}, st, cancel.New(), transcriber, diarizer, artifact.New(dir))
	pool.Start()
	defer pool.Stop()

	job := submitQueuedJob(t, st, true)
	require.NoError(t, pool.Submit(job.ID))

	final := waitForTerminal(t, st, job.ID)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.ResultRef)

	art, err := artifact.New(dir).Load(*final.ResultRef)
	require.NoError(t, err)
	assert.Equal(t, "hello world", art.Text)
	assert.Contains(t, art.Speakers, "SPEAKER_00")
}

func TestPoolDiarizationUnavailableIsSoftFailure(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	dir := t.TempDir()

	transcriber := &fakeTranscriber{raw: models.RawTranscription{
		Text:     "no speakers here",
		Language: "en",
		Segments: []models.Segment{{StartSec: 0, EndSec: 1, Text: "no speakers here"}},
	}}
	diarizer := &fakeDiarizer{err: diar.ErrUnavailable}

	pool := New(Config{Concurrency: 1, DefaultTimeout: time.Minute}, st, cancel.New(), transcriber, diarizer, artifact.New(dir))
	pool.Start()
	defer pool.Stop()

	job := submitQueuedJob(t, st, true)
	require.NoError(t, pool.Submit(job.ID))

	final := waitForTerminal(t, st, job.ID)
	assert.Equal(t, models.StatusCompleted, final.Status, "diarization unavailability must not fail the job")

	art, err := artifact.New(dir).Load(*final.ResultRef)
	require.NoError(t, err)
	assert.Contains(t, art.Metadata.DiarizationNote, "unavailable")
}

func TestPoolEngineFailureMarksJobFailed(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	dir := t.TempDir()

	transcriber := &fakeTranscriber{err: errors.Join(asr.ErrEngineFailed, errors.New("boom"))}
	pool := New(Config{Concurrency: 1, DefaultTimeout: time.Minute}, st, cancel.New(), transcriber, nil, artifact.New(dir))
	pool.Start()
	defer pool.Stop()

	job := submitQueuedJob(t, st, false)
	require.NoError(t, pool.Submit(job.ID))

	final := waitForTerminal(t, st, job.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	require.NotNil(t, final.Error())
	assert.Equal(t, models.ErrKindProcessing, final.Error().Kind)
}

func TestPoolCancelMidRunStopsJobAsCancelled(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	dir := t.TempDir()

	transcriber := &fakeTranscriber{cancelRespects: true}
	registry := cancel.New()
	pool := New(Config{Concurrency: 1, DefaultTimeout: time.Minute}, st, registry, transcriber, nil, artifact.New(dir))
	pool.Start()
	defer pool.Stop()

	job := submitQueuedJob(t, st, false)
	require.NoError(t, pool.Submit(job.ID))

	// Give the worker a moment to claim the job and register its token.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !registry.IsRegistered(job.ID) {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, registry.IsRegistered(job.ID))
	assert.Equal(t, cancel.Cancelled, registry.Cancel(job.ID, "user requested"))

	final := waitForTerminal(t, st, job.ID)
	assert.Equal(t, models.StatusCancelled, final.Status)
}

func TestPoolEnforcesConcurrencyCeiling(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	dir := t.TempDir()

	release := make(chan struct{})
	transcriber := &blockingTranscriber{release: release}
	pool := New(Config{Concurrency: 1, DefaultTimeout: time.Minute}, st, cancel.New(), transcriber, nil, artifact.New(dir))
	pool.Start()
	defer pool.Stop()

	jobA := submitQueuedJob(t, st, false)
	jobB := submitQueuedJob(t, st, false)
	require.NoError(t, pool.Submit(jobA.ID))
	require.NoError(t, pool.Submit(jobB.ID))

	time.Sleep(100 * time.Millisecond)
	a, err := st.Get(context.Background(), jobA.ID)
	require.NoError(t, err)
	bJob, err := st.Get(context.Background(), jobB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, a.Status, "first job should be claimed with a concurrency-1 pool")
	assert.Equal(t, models.StatusQueued, bJob.Status, "second job must wait for the single worker slot")

	close(release)
	waitForTerminal(t, st, jobA.ID)
	waitForTerminal(t, st, jobB.ID)
}

type blockingTranscriber struct {
	release chan struct{}
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, source string, params asr.Params, cancelCh <-chan struct{}, sink asr.ProgressSink) (models.RawTranscription, error) {
	<-b.release
	return models.RawTranscription{Text: "done", Segments: []models.Segment{{StartSec: 0, EndSec: 1, Text: "done"}}}, nil
}
