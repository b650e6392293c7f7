package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
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
		Text:     "hello from test",
		Language: "en",
		Segments: []models.Segment{{StartSec: 0, EndSec: 1, Text: "hello from test"}},
	}, nil
}

func newTestHandler(t *testing.T) (*Handler, *orchestrator.Core) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	return New(core, t.TempDir()), core
}

func multipartUpload(t *testing.T, fieldName, filename string, content []byte, form map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fw, err := w.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range form {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitAndStatusHappyPath(t *testing.T) {
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	body, contentType := multipartUpload(t, "file", "clip.wav", make([]byte, 10), map[string]string{
		"model_size": "base",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)

	deadline := time.Now().Add(2 * time.Second)
	var statusCode int
	var statusBody []byte
	for time.Now().Before(deadline) {
		sw := httptest.NewRecorder()
		r.ServeHTTP(sw, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+resp.JobID, nil))
		statusCode, statusBody = sw.Code, sw.Body.Bytes()
		var job models.Job
		require.NoError(t, json.Unmarshal(statusBody, &job))
		if job.Status.IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, http.StatusOK, statusCode)

	var job models.Job
	require.NoError(t, json.Unmarshal(statusBody, &job))
	assert.Equal(t, models.StatusCompleted, job.Status)
}

func TestSubmitRejectsMissingFileField(t *testing.T) {
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestStatusUnknownJobReturns404(t *testing.T) {
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelUnknownJobReturns404(t *testing.T) {
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/does-not-exist/cancel", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

