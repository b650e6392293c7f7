// Package httpapi is the request/response + streaming surface adapter
// (spec §6.2): submit/status/cancel endpoints plus a long-lived SSE
// stream, all thin wrappers around internal/orchestrator. Grounded in the
// teacher's internal/api (gin routing, multipart upload handling) and
// internal/sse.Broadcaster.ServeHTTP (flusher-based SSE framing,
// keep-alive ticks), narrowed to exactly the four operations spec §6.2
// names — no auth, no CORS/TLS, no document templating, all of which are
// out of scope per §1.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"transcriflow/internal/apierrors"
	"transcriflow/internal/models"
	"transcriflow/internal/orchestrator"
	"transcriflow/internal/worker"
	"transcriflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler holds the orchestrator core every route delegates to.
type Handler struct {
	core      *orchestrator.Core
	uploadDir string
}

// New builds a Handler. uploadDir is where submitted files are staged
// before becoming a job's SourcePath (teacher: internal/api/handlers.go's
// per-job upload directory under cfg.DataDir).
func New(core *orchestrator.Core, uploadDir string) *Handler {
	return &Handler{core: core, uploadDir: uploadDir}
}

// SetupRouter registers every route spec §6.2 names, plus a health check.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinLogger())

	r.GET("/health", h.health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/jobs", h.submit)
		v1.GET("/jobs/:id", h.status)
		v1.POST("/jobs/:id/cancel", h.cancel)
		v1.GET("/jobs/:id/stream", h.stream)
	}
	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeAPIError(c *gin.Context, err error) {
	var ve *orchestrator.ValidationError
	if errors.As(err, &ve) {
		apiErr := apierrors.New(apierrors.Code(ve.Code), ve.Message)
		c.JSON(apiErr.HTTPEquivalent, gin.H{"error": apiErr})
		return
	}
	apiErr := apierrors.New(apierrors.CodeInternalError, err.Error())
	c.JSON(http.StatusInternalServerError, gin.H{"error": apiErr})
}

// submit accepts a multipart file upload plus form-encoded parameters and
// returns the acceptance response spec §6.2 describes: "{job_id,
// status_url, estimated_processing_time}".
func (h *Handler) submit(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		apiErr := apierrors.New(apierrors.CodeInvalidParameters, "multipart field \"file\" is required")
		c.JSON(apiErr.HTTPEquivalent, gin.H{"error": apiErr})
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeAPIError(c, fmt.Errorf("prepare upload directory: %w", err))
		return
	}
	destPath := filepath.Join(h.uploadDir, uuid.New().String()+"-"+filepath.Base(fileHeader.Filename))
	if err := saveUpload(fileHeader, destPath); err != nil {
		writeAPIError(c, fmt.Errorf("save upload: %w", err))
		return
	}

	req := orchestrator.SubmitRequest{
		FilePath:      destPath,
		ModelSize:     c.DefaultPostForm("model_size", ""),
		Language:      c.DefaultPostForm("language", ""),
		EnableDiarize: parseBoolDefault(c.DefaultPostForm("enable_diarization", "true"), true),
		Device:        c.DefaultPostForm("device", ""),
		ComputeType:   c.DefaultPostForm("compute_type", ""),
		OutputFormat:  c.DefaultPostForm("output_format", ""),
	}

	job, estimated, err := h.core.SubmitSingle(c.Request.Context(), req)
	if err != nil {
		_ = os.Remove(destPath)
		writeAPIError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":                    job.ID,
		"status_url":                fmt.Sprintf("/api/v1/jobs/%s", job.ID),
		"estimated_processing_time": estimated,
	})
}

func saveUpload(fh *multipart.FileHeader, dest string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

func parseBoolDefault(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

// status returns the current Job record (spec §6.2 "Status endpoint
// returns the current Job record").
func (h *Handler) status(c *gin.Context) {
	jobID := c.Param("id")
	job, err := h.core.GetJob(c.Request.Context(), jobID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if job == nil {
		apiErr := apierrors.New(apierrors.CodeJobNotFound, "no such job")
		c.JSON(apiErr.HTTPEquivalent, gin.H{"error": apiErr})
		return
	}
	c.JSON(http.StatusOK, job)
}

// cancel flips the job to cancelled if non-terminal (spec §6.2
// "Cancellation endpoint flips the job to cancelled if non-terminal").
func (h *Handler) cancel(c *gin.Context) {
	jobID := c.Param("id")
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	outcome, err := h.core.Cancel(c.Request.Context(), jobID, body.Reason)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	switch outcome {
	case worker.CancelNotFound:
		apiErr := apierrors.New(apierrors.CodeJobNotFound, "no such job")
		c.JSON(apiErr.HTTPEquivalent, gin.H{"error": apiErr})
	case worker.CancelNotCancelable:
		apiErr := apierrors.New(apierrors.CodeCannotCancel, "job is already in a terminal state")
		c.JSON(apiErr.HTTPEquivalent, gin.H{"error": apiErr})
	default:
		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": "cancelled"})
	}
}

const heartbeatInterval = 15 * time.Second

// stream opens the long-lived text/event-stream (spec §6.2): the first
// message is the current snapshot, subsequent messages are live updates,
// named "progress"/"completed"/"failed"/"cancelled", with heartbeat
// comments on idle —
// the surface's own heartbeat, since "the broker itself does not
// synthesize ticks" (spec §4.2). Framing modeled on the teacher's
// internal/sse.Broadcaster.ServeHTTP (flusher-based, one SSE write per
// event plus a time.After heartbeat branch).
func (h *Handler) stream(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.core.GetJob(c.Request.Context(), jobID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if job == nil {
		apiErr := apierrors.New(apierrors.CodeJobNotFound, "no such job")
		c.JSON(apiErr.HTTPEquivalent, gin.H{"error": apiErr})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if _, ok := w.(http.Flusher); !ok {
		apiErr := apierrors.New(apierrors.CodeInternalError, "streaming unsupported by this response writer")
		c.JSON(apiErr.HTTPEquivalent, gin.H{"error": apiErr})
		return
	}
	w.WriteHeader(http.StatusOK)

	ch, last := h.core.Subscribe(jobID)
	defer h.core.Unsubscribe(jobID, ch)

	if last != nil {
		writeSSEEvent(c, *last)
		if last.IsTerminal() {
			return
		}
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(c, ev)
			if ev.IsTerminal() {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			w.Flush()
		}
	}
}

// writeSSEEvent frames ev via gin's SSEvent (backed by gin-contrib/sse's
// Encode), the same library the teacher's go.mod carries alongside gin
// itself, in place of the teacher's own hand-rolled
// internal/sse.Broadcaster framing.
func writeSSEEvent(c *gin.Context, ev models.ProgressEvent) {
	name, payload := sseFraming(ev)
	c.SSEvent(name, payload)
	c.Writer.Flush()
}

// sseFraming chooses the named event and JSON payload for ev (spec §6.2:
// progress/completed/failed/cancelled events, each with its own shape).
func sseFraming(ev models.ProgressEvent) (string, string) {
	switch {
	case ev.Terminal && ev.Status == models.StatusCompleted:
		return "completed", jsonOrEmpty(gin.H{
			"job_id": ev.JobID, "status": ev.Status, "result_ref": ev.ResultRef,
		})
	case ev.Terminal && ev.Status == models.StatusFailed:
		errType := ""
		if ev.Err != nil {
			errType = string(ev.Err.Kind)
		}
		return "failed", jsonOrEmpty(gin.H{
			"job_id": ev.JobID, "error": ev.Err, "error_type": errType,
		})
	case ev.Terminal && ev.Status == models.StatusCancelled:
		return "cancelled", jsonOrEmpty(gin.H{
			"job_id": ev.JobID, "status": ev.Status,
		})
	default:
		return "progress", jsonOrEmpty(gin.H{
			"job_id": ev.JobID, "status": ev.Status, "progress": ev.Progress, "message": ev.Message,
		})
	}
}

func jsonOrEmpty(v gin.H) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
