// Package apierrors is the shared error-taxonomy mapping used by both
// surface adapters (spec §6.1's agent-tool error shape and §6.2's HTTP
// equivalents). It translates the core's domain errors — models.ErrorKind
// for job-lifecycle failures, plus the orchestrator's own validation
// sentinels — into the structured {code, message, error_type, user_action,
// http_equivalent} shape spec §7 requires every error response to carry.
//
// Grounded in the teacher's flat gin.H{"error": "..."} responses
// (internal/api/handlers.go), widened here to the richer taxonomy
// spec.md's distillation asks for but the teacher itself does not need,
// since it has no agent-tool surface of its own.
package apierrors

import (
	"transcriflow/internal/models"
)

// Code is a machine-readable error code, matching the enumerations in
// spec §6.1's per-tool error kind columns.
type Code string

const (
	CodeFileNotFound       Code = "FILE_NOT_FOUND"
	CodeInvalidFile        Code = "INVALID_FILE"
	CodeUnsupportedFormat  Code = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge       Code = "FILE_TOO_LARGE"
	CodeInvalidParameters  Code = "INVALID_PARAMETERS"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeJobNotFound        Code = "JOB_NOT_FOUND"
	CodeJobNotCompleted    Code = "JOB_NOT_COMPLETED"
	CodeResultNotFound     Code = "RESULT_NOT_FOUND"
	CodeBatchTooLarge      Code = "BATCH_TOO_LARGE"
	CodeNoValidFiles       Code = "NO_VALID_FILES"
	CodeCannotCancel       Code = "CANNOT_CANCEL"
)

// Error is the structured error every tool/HTTP error response carries
// (spec §6.1 "{success:false, error:{code, message, details:{error_type,
// user_action, http_equivalent, ...}}}").
type Error struct {
	Code           Code   `json:"code"`
	Message        string `json:"message"`
	ErrorType      string `json:"error_type"`
	UserAction     string `json:"user_action"`
	HTTPEquivalent int    `json:"http_equivalent"`
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error with a code's well-known type/action/http mapping.
func New(code Code, message string) *Error {
	e := &Error{Code: code, Message: message}
	switch code {
	case CodeFileNotFound:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "not_found", "verify the file path is correct and accessible to the service", 404
	case CodeInvalidFile:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "validation", "confirm the path points to a readable audio file, not a directory", 422
	case CodeUnsupportedFormat:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "validation", "convert the file to one of the supported audio formats", 415
	case CodeFileTooLarge:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "validation", "split or compress the file to fit under the configured size limit", 413
	case CodeInvalidParameters:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "validation", "check the request parameters against the tool's accepted values", 422
	case CodeJobNotFound:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "not_found", "verify the job id; it may have been swept by retention", 404
	case CodeJobNotCompleted:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "validation", "poll progress until the job reaches a terminal state before requesting its result", 409
	case CodeResultNotFound:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "server", "the job completed but its artifact is missing; this indicates a storage fault", 500
	case CodeBatchTooLarge:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "capacity", "split into batches of 10 files or fewer", 413
	case CodeNoValidFiles:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "validation", "check that at least one submitted file path exists and is readable", 422
	case CodeCannotCancel:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "validation", "the job has already reached a terminal state and cannot be cancelled", 409
	default:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "server", "retry later; if the problem persists, check service logs", 500
	}
	return e
}

// FromJobError maps a persisted models.JobError (spec §7 taxonomy:
// validation/not_found/capacity/processing/cancelled/server) onto the
// surface error shape, used when a surface reads back a failed job's
// structured error rather than rejecting a request outright.
func FromJobError(je models.JobError) *Error {
	e := &Error{Code: CodeInternalError, Message: je.Message}
	switch je.Kind {
	case models.ErrKindValidation:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "validation", "review the submitted parameters and resubmit", 422
	case models.ErrKindNotFound:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "not_found", "verify the referenced id", 404
	case models.ErrKindCapacity:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "capacity", "retry once capacity frees up", 503
	case models.ErrKindProcessing:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "processing", "resubmit, optionally with a smaller file or shorter timeout-sensitive input", 500
	case models.ErrKindCancelled:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "cancelled", "resubmit if the cancellation was unintended", 409
	case models.ErrKindServer:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "server", "retry later; if the problem persists, check service logs", 500
	default:
		e.ErrorType, e.UserAction, e.HTTPEquivalent = "server", "retry later; if the problem persists, check service logs", 500
	}
	return e
}
