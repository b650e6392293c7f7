package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"transcriflow/internal/artifact"
	"transcriflow/internal/batch"
	"transcriflow/internal/broker"
	"transcriflow/internal/cancel"
	"transcriflow/internal/config"
	"transcriflow/internal/engine/asr"
	"transcriflow/internal/models"
	"transcriflow/internal/orchestrator"
	"transcriflow/internal/store"
	"transcriflow/internal/worker"
)

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, source string, params asr.Params, cancelCh <-chan struct{}, sink asr.ProgressSink) (models.RawTranscription, error) {
	sink.Report(50, "transcribing")
	return models.RawTranscription{
		Text:     "hello",
		Language: "en",
		Segments: []models.Segment{{StartSec: 0, EndSec: 1, Text: "hello", Speaker: "SPEAKER_00"}},
	}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	b := broker.New()
	st, err := store.NewInMemory(db, b)
	require.NoError(t, err)

	pool := worker.New(worker.Config{Concurrency: 1, DefaultTimeout: time.Minute}, st, cancel.New(), fakeTranscriber{}, nil, artifact.New(t.TempDir()))
	pool.Start()
	t.Cleanup(pool.Stop)

	bc := batch.New(st, pool, b, 5)
	cfg := &config.Config{MaxFileSizeBytes: 1 << 20, SupportedFormats: []string{"wav"}, WhisperModel: "base", Device: "auto", UseGPU: true}
	core := orchestrator.New(st, pool, bc, artifact.New(t.TempDir()), b, cfg)
	return New(core, "transcriflow-test", "0.0.0")
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) map[string]any {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
	switch name {
	case "transcribe_audio":
		handler = s.handleTranscribeAudio
	case "get_transcription_progress":
		handler = s.handleGetProgress
	case "get_transcription_result":
		handler = s.handleGetResult
	case "list_transcription_history":
		handler = s.handleListHistory
	case "batch_transcribe":
		handler = s.handleBatchTranscribe
	case "cancel_transcription":
		handler = s.handleCancelTranscription
	default:
		t.Fatalf("unknown tool %q", name)
	}

	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "tool result content must be text")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func writeAudioFixture(t *testing.T, size int) string {
	t.Helper()
	path := t.TempDir() + "/clip.wav"
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestTranscribeAudioRejectsMissingFile(t *testing.T) {
	s := newTestServer(t)
	resp := callTool(t, s, "transcribe_audio", map[string]any{"file_path": "/no/such/file.wav"})
	assert.Equal(t, false, resp["success"])
}

func TestTranscribeAudioHappyPath(t *testing.T) {
	s := newTestServer(t)
	path := writeAudioFixture(t, 10)

	resp := callTool(t, s, "transcribe_audio", map[string]any{"file_path": path})
	require.Equal(t, true, resp["success"])
	job := resp["job"].(map[string]any)
	jobID := job["job_id"].(string)
	require.NotEmpty(t, jobID)

	deadline := time.Now().Add(2 * time.Second)
	var progress map[string]any
	for time.Now().Before(deadline) {
		progress = callTool(t, s, "get_transcription_progress", map[string]any{"job_id": jobID})
		j := progress["job"].(map[string]any)
		if j["status"] == "completed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	j := progress["job"].(map[string]any)
	assert.Equal(t, "completed", j["status"])

	result := callTool(t, s, "get_transcription_result", map[string]any{"job_id": jobID, "format": "text"})
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "hello", result["text"])
}

func TestGetProgressRequiresJobIDOrAllJobs(t *testing.T) {
	s := newTestServer(t)
	resp := callTool(t, s, "get_transcription_progress", map[string]any{})
	assert.Equal(t, false, resp["success"])
}

func TestCancelUnknownJobReportsNotFound(t *testing.T) {
	s := newTestServer(t)
	resp := callTool(t, s, "cancel_transcription", map[string]any{"job_id": "does-not-exist"})
	require.Equal(t, false, resp["success"])
	errPayload := resp["error"].(map[string]any)
	assert.Equal(t, "JOB_NOT_FOUND", errPayload["code"])
}

func TestBatchTranscribeRejectsEmptyFileList(t *testing.T) {
	s := newTestServer(t)
	resp := callTool(t, s, "batch_transcribe", map[string]any{"file_paths": []any{}})
	assert.Equal(t, false, resp["success"])
}

func TestListTranscriptionHistoryReturnsSubmittedJobs(t *testing.T) {
	s := newTestServer(t)
	path := writeAudioFixture(t, 10)
	_ = callTool(t, s, "transcribe_audio", map[string]any{"file_path": path})

	resp := callTool(t, s, "list_transcription_history", map[string]any{"limit": float64(10)})
	require.Equal(t, true, resp["success"])
	history := resp["history"].(map[string]any)
	assert.GreaterOrEqual(t, history["total_count"], float64(1))
}
