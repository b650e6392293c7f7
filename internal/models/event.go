package models

// ProgressEvent is the broker payload (spec §3 ProgressEvent, §4.2). A
// completed event carries ResultRef, a failed event carries Err, and a
// cancelled event carries neither; an intermediate tick carries neither
// and Terminal is empty.
type ProgressEvent struct {
	JobID    string     `json:"job_id"`
	Status   JobStatus  `json:"status"`
	Progress int        `json:"progress"`
	Message  string     `json:"message"`

	Terminal  bool      `json:"terminal,omitempty"`
	ResultRef *string   `json:"result_ref,omitempty"`
	Err       *JobError `json:"error,omitempty"`
}

// IsTerminal reports whether this event represents a job reaching a
// terminal state — these events are never coalesced away (spec §4.2).
func (e ProgressEvent) IsTerminal() bool {
	return e.Terminal
}

// FromJob builds the broker event that corresponds to a job's current
// persisted state. The store calls this on every successful update.
func FromJob(j *Job) ProgressEvent {
	ev := ProgressEvent{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Message:  j.ProgressMessage,
	}
	if j.Status.IsTerminal() {
		ev.Terminal = true
		switch j.Status {
		case StatusCompleted:
			ev.ResultRef = j.ResultRef
		case StatusFailed:
			ev.Err = j.Error()
		}
	}
	return ev
}
