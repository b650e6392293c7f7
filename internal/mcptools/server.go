// Package mcptools is the agent-tool surface adapter (spec §6.1): six
// tools exposed over the Model Context Protocol, each a thin wrapper
// around internal/orchestrator that shapes its result into the
// {success:true,...}/{success:false,error:{...}} envelope spec §6.1
// prescribes. Grounded in the pack's apresai-podcaster example
// (other_examples/.../internal-mcpserver-tasks.go.go's TaskManager —
// async task start/cancel/query against a narrow store contract) and
// built on mark3labs/mcp-go, the real dependency that example project
// uses for its own MCP surface (the teacher has none of its own).
package mcptools

import (
	"context"
	"fmt"

	"transcriflow/internal/apierrors"
	"transcriflow/internal/batch"
	"transcriflow/internal/models"
	"transcriflow/internal/orchestrator"
	"transcriflow/internal/worker"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the orchestration core in a mark3labs/mcp-go MCPServer,
// registering the six tools spec §6.1 names.
type Server struct {
	core *orchestrator.Core
	mcp  *server.MCPServer
}

// New builds a Server and registers every tool.
func New(core *orchestrator.Core, name, version string) *Server {
	s := &Server{core: core, mcp: server.NewMCPServer(name, version)}
	s.registerTools()
	return s
}

// ServeStdio runs the MCP server over stdio, blocking until the host
// disconnects or the process is signalled — the same posture as the
// example TaskManager's host process, adapted from an HTTP handler
// lifetime to a stdio-framed one.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(transcribeAudioTool(), s.handleTranscribeAudio)
	s.mcp.AddTool(getProgressTool(), s.handleGetProgress)
	s.mcp.AddTool(getResultTool(), s.handleGetResult)
	s.mcp.AddTool(listHistoryTool(), s.handleListHistory)
	s.mcp.AddTool(batchTranscribeTool(), s.handleBatchTranscribe)
	s.mcp.AddTool(cancelTranscriptionTool(), s.handleCancelTranscription)
}

// --- transcribe_audio ---

func transcribeAudioTool() mcp.Tool {
	return mcp.NewTool("transcribe_audio",
		mcp.WithDescription("Submit an audio file for transcription with optional speaker diarization."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Absolute path to the audio file on disk.")),
		mcp.WithString("model_size", mcp.Description("Whisper model size (tiny, base, small, medium, large-v2, large-v3). Defaults to base.")),
		mcp.WithString("language", mcp.Description("ISO language code; omit to auto-detect.")),
		mcp.WithBoolean("enable_diarization", mcp.Description("Attach speaker labels to segments. Defaults to true.")),
		mcp.WithString("device", mcp.Description("Device override: auto, cpu, or a GPU identifier.")),
		mcp.WithString("compute_type", mcp.Description("Compute precision override, e.g. float16 or int8.")),
		mcp.WithString("output_format", mcp.Description("Result shaping hint for downstream consumers. Defaults to detailed.")),
	)
}

func (s *Server) handleTranscribeAudio(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	req := orchestrator.SubmitRequest{
		FilePath:      argString(args, "file_path", ""),
		ModelSize:     argString(args, "model_size", ""),
		Language:      argString(args, "language", ""),
		EnableDiarize: argBool(args, "enable_diarization", true),
		Device:        argString(args, "device", ""),
		ComputeType:   argString(args, "compute_type", ""),
		OutputFormat:  argString(args, "output_format", ""),
	}

	job, estimated, err := s.core.SubmitSingle(ctx, req)
	if err != nil {
		return errorResult(errorFrom(err)), nil
	}

	view := jobFromModel(job)
	view.EstimatedDuration = estimated
	view.ModelInfo = fmt.Sprintf("%s (diarization=%v)", job.Parameters.ModelSize, job.Parameters.EnableDiarize)

	return jsonResult(struct {
		Success bool    `json:"success"`
		Job     jobView `json:"job"`
	}{true, view}), nil
}

// --- get_transcription_progress ---

func getProgressTool() mcp.Tool {
	return mcp.NewTool("get_transcription_progress",
		mcp.WithDescription("Check the progress of one job, or list every active job's stats."),
		mcp.WithString("job_id", mcp.Description("Job id to query. Omit when all_jobs is true.")),
		mcp.WithBoolean("all_jobs", mcp.Description("Return the pool-wide stats snapshot instead of one job.")),
	)
}

func (s *Server) handleGetProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	if argBool(args, "all_jobs", false) {
		stats, err := s.core.Stats(ctx)
		if err != nil {
			return errorResult(errorFrom(err)), nil
		}
		return jsonResult(struct {
			Success    bool          `json:"success"`
			ActiveJobs worker.Stats  `json:"active_jobs"`
			Stats      worker.Stats  `json:"stats"`
		}{true, stats, stats}), nil
	}

	jobID := argString(args, "job_id", "")
	if jobID == "" {
		return errorResult(apierrors.New(apierrors.CodeInvalidParameters, "either job_id or all_jobs is required")), nil
	}
	job, err := s.core.GetJob(ctx, jobID)
	if err != nil {
		return errorResult(errorFrom(err)), nil
	}
	if job == nil {
		return errorResult(apierrors.New(apierrors.CodeJobNotFound, "no such job")), nil
	}
	return jsonResult(struct {
		Success bool    `json:"success"`
		Job     jobView `json:"job"`
	}{true, jobFromModel(job)}), nil
}

// --- get_transcription_result ---

func getResultTool() mcp.Tool {
	return mcp.NewTool("get_transcription_result",
		mcp.WithDescription("Fetch the transcript of a completed job, shaped per the requested format."),
		mcp.WithString("job_id", mcp.Required()),
		mcp.WithString("format", mcp.Description("One of: text, summary, segments, full. Defaults to full.")),
		mcp.WithBoolean("include_metadata", mcp.Description("Include model/timing metadata in the full/summary formats.")),
		mcp.WithBoolean("include_timestamps", mcp.Description("Include per-segment start/end times.")),
		mcp.WithBoolean("include_confidence", mcp.Description("Include per-segment confidence scores, if available.")),
		mcp.WithBoolean("include_speakers", mcp.Description("Include per-segment speaker labels.")),
	)
}

func (s *Server) handleGetResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	jobID := argString(args, "job_id", "")
	if jobID == "" {
		return errorResult(apierrors.New(apierrors.CodeInvalidParameters, "job_id is required")), nil
	}

	job, art, err := s.core.GetArtifact(ctx, jobID)
	if err != nil {
		return errorResult(errorFrom(err)), nil
	}

	format := argString(args, "format", "full")
	includeMeta := argBool(args, "include_metadata", true)
	includeTimestamps := argBool(args, "include_timestamps", true)
	includeConfidence := argBool(args, "include_confidence", false)
	includeSpeakers := argBool(args, "include_speakers", true)

	return jsonResult(shapeResult(job.ID, format, art, includeMeta, includeTimestamps, includeConfidence, includeSpeakers)), nil
}

type segmentView struct {
	Text       string  `json:"text"`
	StartSec   float64 `json:"start_sec,omitempty"`
	EndSec     float64 `json:"end_sec,omitempty"`
	Speaker    string  `json:"speaker_label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// shapeResult applies the per-format projection spec §6.1's
// get_transcription_result table describes: text returns only the
// concatenated transcript, summary adds language/speakers/metadata
// without segments, segments returns the segment list alone, full
// returns everything the include flags allow.
func shapeResult(jobID, format string, a *models.TranscriptionArtifact, includeMeta, includeTimestamps, includeConfidence, includeSpeakers bool) any {
	segs := make([]segmentView, len(a.Segments))
	for i, seg := range a.Segments {
		sv := segmentView{Text: seg.Text}
		if includeTimestamps {
			sv.StartSec, sv.EndSec = seg.StartSec, seg.EndSec
		}
		if includeSpeakers {
			sv.Speaker = seg.Speaker
		}
		if includeConfidence {
			sv.Confidence = seg.Confidence
		}
		segs[i] = sv
	}

	switch format {
	case "text":
		return struct {
			Success bool   `json:"success"`
			JobID   string `json:"job_id"`
			Text    string `json:"text"`
		}{true, jobID, a.Text}
	case "summary":
		out := struct {
			Success  bool                     `json:"success"`
			JobID    string                   `json:"job_id"`
			Language string                   `json:"language"`
			Speakers []string                 `json:"speakers"`
			Metadata *models.ArtifactMetadata `json:"metadata,omitempty"`
		}{true, jobID, a.Language, a.Speakers, nil}
		if includeMeta {
			out.Metadata = &a.Metadata
		}
		return out
	case "segments":
		return struct {
			Success  bool          `json:"success"`
			JobID    string        `json:"job_id"`
			Segments []segmentView `json:"segments"`
		}{true, jobID, segs}
	default: // "full"
		out := struct {
			Success  bool                     `json:"success"`
			JobID    string                   `json:"job_id"`
			Text     string                   `json:"text"`
			Language string                   `json:"language"`
			Segments []segmentView            `json:"segments"`
			Speakers []string                 `json:"speakers"`
			Metadata *models.ArtifactMetadata `json:"metadata,omitempty"`
		}{true, jobID, a.Text, a.Language, segs, a.Speakers, nil}
		if includeMeta {
			out.Metadata = &a.Metadata
		}
		return out
	}
}

// --- list_transcription_history ---

func listHistoryTool() mcp.Tool {
	return mcp.NewTool("list_transcription_history",
		mcp.WithDescription("List past jobs, optionally filtered by status, date range, or filename."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of jobs to return. Defaults to 20.")),
		mcp.WithString("status_filter", mcp.Description("Restrict to one status: queued, processing, completed, failed, cancelled.")),
		mcp.WithString("date_from", mcp.Description("ISO-8601 lower bound on created_at.")),
		mcp.WithString("date_to", mcp.Description("ISO-8601 upper bound on created_at.")),
		mcp.WithString("search_query", mcp.Description("Case-insensitive substring match against the original filename.")),
		mcp.WithBoolean("get_statistics", mcp.Description("Include aggregate pool statistics alongside the listing.")),
	)
}

func (s *Server) handleListHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	limit := argInt(args, "limit", 20)

	filter := orchestrator.ListFilter{SearchQuery: argString(args, "search_query", ""), Limit: limit}
	if sf := argString(args, "status_filter", ""); sf != "" {
		st := models.JobStatus(sf)
		filter.Status = &st
	}
	if df := argString(args, "date_from", ""); df != "" {
		if t, err := parseISODate(df); err == nil {
			filter.DateFrom = &t
		} else {
			return errorResult(apierrors.New(apierrors.CodeInvalidParameters, "date_from must be ISO-8601: "+err.Error())), nil
		}
	}
	if dt := argString(args, "date_to", ""); dt != "" {
		if t, err := parseISODate(dt); err == nil {
			filter.DateTo = &t
		} else {
			return errorResult(apierrors.New(apierrors.CodeInvalidParameters, "date_to must be ISO-8601: "+err.Error())), nil
		}
	}

	jobs, total, err := s.core.ListJobs(ctx, filter)
	if err != nil {
		return errorResult(errorFrom(err)), nil
	}

	views := make([]jobView, len(jobs))
	for i := range jobs {
		views[i] = jobFromModel(&jobs[i])
	}

	type historyPayload struct {
		Jobs           []jobView `json:"jobs"`
		TotalCount     int       `json:"total_count"`
		FilteredCount  int       `json:"filtered_count"`
	}

	resp := struct {
		Success    bool            `json:"success"`
		History    historyPayload  `json:"history"`
		Statistics *worker.Stats   `json:"statistics,omitempty"`
	}{
		Success: true,
		History: historyPayload{Jobs: views, TotalCount: total, FilteredCount: len(views)},
	}

	if argBool(args, "get_statistics", false) {
		stats, err := s.core.Stats(ctx)
		if err != nil {
			return errorResult(errorFrom(err)), nil
		}
		resp.Statistics = &stats
	}

	return jsonResult(resp), nil
}

// --- batch_transcribe ---

func batchTranscribeTool() mcp.Tool {
	return mcp.NewTool("batch_transcribe",
		mcp.WithDescription(fmt.Sprintf("Submit up to %d audio files under shared parameters and a per-batch concurrency cap.", batch.MaxBatchSize)),
		mcp.WithArray("file_paths", mcp.Required(), mcp.Description("1 to 10 absolute file paths.")),
		mcp.WithString("model_size", mcp.Description("Shared whisper model size for every member. Defaults to base.")),
		mcp.WithString("language", mcp.Description("Shared language hint; omit to auto-detect.")),
		mcp.WithBoolean("enable_diarization", mcp.Description("Shared diarization toggle. Defaults to true.")),
		mcp.WithString("device", mcp.Description("Shared device override.")),
		mcp.WithString("compute_type", mcp.Description("Shared compute precision override.")),
		mcp.WithNumber("max_concurrent", mcp.Description(fmt.Sprintf("Per-batch concurrency cap, 1 to %d. Defaults to the deployment's configured batch_max_concurrent.", batch.MaxConcurrency))),
	)
}

func (s *Server) handleBatchTranscribe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	paths := argStringSlice(args, "file_paths")
	if len(paths) == 0 {
		return errorResult(apierrors.New(apierrors.CodeInvalidParameters, "file_paths must contain at least one path")), nil
	}

	req := orchestrator.SubmitBatchRequest{
		FilePaths: paths,
		Parameters: orchestrator.SubmitRequest{
			ModelSize:     argString(args, "model_size", ""),
			Language:      argString(args, "language", ""),
			EnableDiarize: argBool(args, "enable_diarization", true),
			Device:        argString(args, "device", ""),
			ComputeType:   argString(args, "compute_type", ""),
		},
		MaxConcurrent: argInt(args, "max_concurrent", 0),
	}

	batchID, summaries, err := s.core.SubmitBatch(ctx, req)
	if err != nil {
		return errorResult(errorFrom(err)), nil
	}

	valid, invalid := 0, 0
	jobs := make([]models.MemberSummary, 0, len(summaries))
	for _, sm := range summaries {
		if sm.Valid {
			valid++
		} else {
			invalid++
		}
		jobs = append(jobs, sm)
	}

	return jsonResult(struct {
		Success      bool                   `json:"success"`
		BatchID      string                 `json:"batch_id"`
		TotalJobs    int                    `json:"total_jobs"`
		ValidFiles   int                    `json:"valid_files"`
		InvalidFiles int                    `json:"invalid_files"`
		Jobs         []models.MemberSummary `json:"jobs"`
	}{true, batchID, len(summaries), valid, invalid, jobs}), nil
}

// --- cancel_transcription ---

func cancelTranscriptionTool() mcp.Tool {
	return mcp.NewTool("cancel_transcription",
		mcp.WithDescription("Cancel a queued or in-flight job."),
		mcp.WithString("job_id", mcp.Required()),
		mcp.WithString("reason", mcp.Description("Optional human-readable cancellation reason.")),
	)
}

func (s *Server) handleCancelTranscription(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	jobID := argString(args, "job_id", "")
	if jobID == "" {
		return errorResult(apierrors.New(apierrors.CodeInvalidParameters, "job_id is required")), nil
	}
	reason := argString(args, "reason", "")

	outcome, err := s.core.Cancel(ctx, jobID, reason)
	if err != nil {
		return errorResult(errorFrom(err)), nil
	}
	switch outcome {
	case worker.CancelNotFound:
		return errorResult(apierrors.New(apierrors.CodeJobNotFound, "no such job")), nil
	case worker.CancelNotCancelable:
		return errorResult(apierrors.New(apierrors.CodeCannotCancel, "job is already in a terminal state")), nil
	default:
		return jsonResult(struct {
			Success bool   `json:"success"`
			JobID   string `json:"job_id"`
			Reason  string `json:"reason,omitempty"`
		}{true, jobID, reason}), nil
	}
}
