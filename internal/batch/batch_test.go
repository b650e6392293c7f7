package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"transcriflow/internal/broker"
	"transcriflow/internal/models"
	"transcriflow/internal/store"
)

// fakeSubmitter marks every submitted job completed (once holdUntil is
// closed, when it is set), recording
// how many were ever concurrently "in flight" to verify the concurrency cap.
type fakeSubmitter struct {
	st *store.Store

	mu        sync.Mutex
	inFlight  int
	maxSeen   int
	holdUntil chan struct{}
}

func (f *fakeSubmitter) Submit(jobID string) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	go func() {
		if f.holdUntil != nil {
			<-f.holdUntil
		}
		_, _ = f.st.Update(context.Background(), jobID, func(j *models.Job) error {
			j.Status = models.StatusProcessing
			return nil
		})
		ref := "result.json"
		_, _ = f.st.Update(context.Background(), jobID, func(j *models.Job) error {
			j.Status = models.StatusCompleted
			j.Progress = 100
			j.ResultRef = &ref
			return nil
		})

		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	return nil
}

func newTestStore(t *testing.T, pub store.Publisher) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	s, err := store.NewInMemory(db, pub)
	require.NoError(t, err)
	return s
}

func tempAudioFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	require.NoError(t, os.WriteFile(path, make([]byte, 32000), 0o644))
	return path
}

func TestSubmitRejectsOversizedBatch(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	sub := &fakeSubmitter{st: st}
	c := New(st, sub, b, 5)

	paths := make([]string, MaxBatchSize+1)
	for i := range paths {
		paths[i] = tempAudioFile(t)
	}

	_, _, err := c.Submit(context.Background(), Request{FilePaths: paths})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestSubmitMixedValidityCreatesOnlyValidJobs(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	sub := &fakeSubmitter{st: st}
	c := New(st, sub, b, 5)

	good1 := tempAudioFile(t)
	good2 := tempAudioFile(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist.wav")

	batchID, summaries, err := c.Submit(context.Background(), Request{FilePaths: []string{good1, missing, good2}})
	require.NoError(t, err)
	assert.NotEmpty(t, batchID)
	require.Len(t, summaries, 3)

	validCount, invalidCount := 0, 0
	for _, s := range summaries {
		if s.Valid {
			validCount++
			assert.NotEmpty(t, s.JobID)
		} else {
			invalidCount++
			assert.Empty(t, s.JobID)
		}
	}
	assert.Equal(t, 2, validCount)
	assert.Equal(t, 1, invalidCount)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		agg, err := c.Aggregate(context.Background(), batchID)
		require.NoError(t, err)
		if agg.Done {
			assert.Equal(t, 2, agg.Total)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch never completed")
}

func TestSubmitAllFilesMissingReturnsNoValidFiles(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	sub := &fakeSubmitter{st: st}
	c := New(st, sub, b, 5)

	missing := filepath.Join(t.TempDir(), "ghost.wav")
	_, summaries, err := c.Submit(context.Background(), Request{FilePaths: []string{missing}})
	assert.ErrorIs(t, err, ErrNoValidFiles)
	require.Len(t, summaries, 1)
	assert.False(t, summaries[0].Valid)
}

func TestSubmitEnforcesPerBatchConcurrencyCap(t *testing.T) {
	b := broker.New()
	st := newTestStore(t, b)
	hold := make(chan struct{})
	sub := &fakeSubmitter{st: st, holdUntil: hold}
	c := New(st, sub, b, 5)

	paths := make([]string, 6)
	for i := range paths {
		paths[i] = tempAudioFile(t)
	}

	_, _, err := c.Submit(context.Background(), Request{FilePaths: paths, MaxConcurrent: 2})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	sub.mu.Lock()
	maxSeen := sub.maxSeen
	sub.mu.Unlock()
	assert.LessOrEqual(t, maxSeen, 2, "per-batch concurrency cap must be respected")

	close(hold)
}
