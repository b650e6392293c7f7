package models

import "time"

// Batch is the grouping entity for a multi-file submission (spec §4.6). The
// aggregate status view is derived on demand from member jobs, never
// persisted separately.
type Batch struct {
	ID            string    `json:"batch_id" gorm:"primaryKey;type:varchar(36)"`
	MemberJobIDs  []string  `json:"member_job_ids" gorm:"-"`
	MaxConcurrent int       `json:"max_concurrent"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// MemberSummary is the per-file acceptance result returned from a batch
// submission (spec §6.1 batch_transcribe).
type MemberSummary struct {
	FilePath          string  `json:"file_path"`
	JobID             string  `json:"job_id,omitempty"`
	Valid             bool    `json:"valid"`
	Reason            string  `json:"reason,omitempty"`
	EstimatedDuration float64 `json:"estimated_duration_sec,omitempty"`
}

// AggregateStatus is the derived, on-demand view over a batch's members.
type AggregateStatus struct {
	BatchID      string         `json:"batch_id"`
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	Processing   int            `json:"processing"`
	Done         bool           `json:"done"`
}
