// Package models defines the tagged records shared by every component of
// the orchestration core: jobs, batches, artifacts, and the events the
// progress broker fans out.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobStatus is the job lifecycle state. Transitions are restricted to
// queued -> processing -> {completed|failed|cancelled} and queued -> cancelled;
// there are no edges out of a terminal state.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is legal from this status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether s -> next is a legal edge in the state
// machine from spec §4.9.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// ErrorKind is the error taxonomy from spec §7.
type ErrorKind string

const (
	ErrKindValidation ErrorKind = "validation"
	ErrKindNotFound   ErrorKind = "not_found"
	ErrKindCapacity   ErrorKind = "capacity"
	ErrKindProcessing ErrorKind = "processing"
	ErrKindCancelled  ErrorKind = "cancelled"
	ErrKindServer     ErrorKind = "server"
)

// JobError is the structured error persisted on a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// JobKind distinguishes a standalone submission from a batch member.
type JobKind string

const (
	KindSingle      JobKind = "single"
	KindBatchMember JobKind = "batch-member"
)

// Parameters holds the transcription/diarization knobs a submission carries.
// Embedded into Job for GORM; mirrors the teacher's WhisperXParams shape.
type Parameters struct {
	ModelSize      string  `json:"model_size" gorm:"column:model_size;default:base"`
	Language       string  `json:"language,omitempty" gorm:"column:language"`
	EnableDiarize  bool    `json:"enable_diarization" gorm:"column:enable_diarization;default:true"`
	Device         string  `json:"device,omitempty" gorm:"column:device"`
	ComputeType    string  `json:"compute_type,omitempty" gorm:"column:compute_type"`
	MaxConcurrent  int     `json:"max_concurrent,omitempty" gorm:"column:max_concurrent"`
	OutputFormat   string  `json:"output_format,omitempty" gorm:"column:output_format;default:detailed"`
}

// Job is the unit of work (spec §3 Job entity).
type Job struct {
	ID              string     `json:"job_id" gorm:"primaryKey;type:varchar(36)"`
	Kind            JobKind    `json:"kind" gorm:"type:varchar(20);not null;default:single"`
	SourcePath      string     `json:"source_path" gorm:"type:text;not null"`
	SourceFilename  string     `json:"source_filename" gorm:"type:text;not null"`
	Parameters      Parameters `json:"parameters" gorm:"embedded"`
	Status          JobStatus  `json:"status" gorm:"type:varchar(20);not null;default:queued;index"`
	Progress        int        `json:"progress" gorm:"not null;default:0"`
	ProgressMessage string     `json:"progress_message" gorm:"type:text"`
	ResultRef       *string    `json:"result_ref,omitempty" gorm:"type:text"`
	ErrorKind       *ErrorKind `json:"-" gorm:"column:error_kind;type:varchar(20)"`
	ErrorMessage    *string    `json:"-" gorm:"column:error_message;type:text"`
	BatchID         *string    `json:"batch_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// Error reassembles the structured JobError from the persisted columns, or
// nil if the job is not (or no longer) in a failed state.
func (j *Job) Error() *JobError {
	if j.ErrorKind == nil || j.ErrorMessage == nil {
		return nil
	}
	return &JobError{Kind: *j.ErrorKind, Message: *j.ErrorMessage}
}

// SetError stamps the structured error onto the job's persisted columns.
func (j *Job) SetError(e JobError) {
	j.ErrorKind = &e.Kind
	j.ErrorMessage = &e.Message
}

// BeforeCreate assigns a uuid if the caller did not already set one.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	return nil
}

// Attempt records one worker execution of a job, independent of the job's
// current state. Store.RecordAttempt persists one; the worker pool does not
// call it, so no attempt rows are written during job execution.
// Supplements spec.md with the teacher's execution-history pattern
// (TranscriptionJobExecution).
type Attempt struct {
	ID          uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	JobID       string     `json:"job_id" gorm:"type:varchar(36);not null;index"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Outcome     JobStatus  `json:"outcome"`
	ErrorKind   *ErrorKind `json:"error_kind,omitempty" gorm:"type:varchar(20)"`
	ErrorMsg    *string    `json:"error_message,omitempty" gorm:"type:text"`
}
