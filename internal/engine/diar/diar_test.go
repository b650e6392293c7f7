package diar

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"transcriflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	turns []models.DiarizationTurn
}

func (f *fakePipeline) Diarize(ctx context.Context, path string) ([]models.DiarizationTurn, error) {
	return f.turns, nil
}

func TestDiarizeLoadsPipelineOnce(t *testing.T) {
	var loadCount int32
	want := []models.DiarizationTurn{{StartSec: 0, EndSec: 1, Speaker: "SPEAKER_00"}}

	a := New(func(ctx context.Context, device string) (Pipeline, error) {
		atomic.AddInt32(&loadCount, 1)
		return &fakePipeline{turns: want}, nil
	}, "cpu")

	for i := 0; i < 3; i++ {
		turns, err := a.Diarize(context.Background(), "clip.wav")
		require.NoError(t, err)
		assert.Equal(t, want, turns)
	}
	assert.Equal(t, int32(1), loadCount)
}

func TestDiarizeUnavailableIsCachedAndWrapped(t *testing.T) {
	var loadCount int32
	a := New(func(ctx context.Context, device string) (Pipeline, error) {
		atomic.AddInt32(&loadCount, 1)
		return nil, errors.New("missing hf_token")
	}, "cpu")

	_, err1 := a.Diarize(context.Background(), "clip.wav")
	_, err2 := a.Diarize(context.Background(), "clip.wav")

	require.Error(t, err1)
	assert.True(t, errors.Is(err1, ErrUnavailable))
	assert.Equal(t, err1, err2)
	assert.Equal(t, int32(1), loadCount, "a failed load should not retry on every call")
}
