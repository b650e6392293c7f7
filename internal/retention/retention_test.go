package retention

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"transcriflow/internal/artifact"
	"transcriflow/internal/models"
	"transcriflow/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	s, err := store.NewInMemory(db, nil)
	require.NoError(t, err)
	return s
}

func TestSweepOnceRemovesOnlyExpiredTerminalJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	arts := artifact.New(dir)

	ref, err := arts.Save("old-job", models.TranscriptionArtifact{JobID: "old-job"})
	require.NoError(t, err)
	old := &models.Job{ID: "old-job", SourcePath: "a", SourceFilename: "a", Status: models.StatusCompleted, Progress: 100, ResultRef: &ref}
	require.NoError(t, st.Create(ctx, old))
	require.NoError(t, st.DB().Model(&models.Job{}).Where("id = ?", "old-job").
		Update("updated_at", time.Now().Add(-72*time.Hour)).Error)

	fresh := &models.Job{ID: "fresh-job", SourcePath: "b", SourceFilename: "b", Status: models.StatusQueued}
	require.NoError(t, st.Create(ctx, fresh))

	sweeper := New(Config{Horizon: 48 * time.Hour}, st, arts)
	count, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	gone, err := st.Get(ctx, "old-job")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := st.Get(ctx, "fresh-job")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	_, err = arts.Load(ref)
	assert.Error(t, err, "artifact directory should have been removed with the job")
}

func TestStartAndStopRunsSweepLoopCleanly(t *testing.T) {
	st := newTestStore(t)
	arts := artifact.New(t.TempDir())
	sweeper := New(Config{Horizon: time.Millisecond, Interval: 10 * time.Millisecond}, st, arts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
}
