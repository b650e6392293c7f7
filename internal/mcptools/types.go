package mcptools

// Every tool answers in one of two shapes: "{success: true, ...}", built
// by each tool as its own result struct, or errorEnvelope below,
// "{success:false, error:{code, message, details:{...}}}".

type errorDetails struct {
	ErrorType      string `json:"error_type"`
	UserAction     string `json:"user_action"`
	HTTPEquivalent int    `json:"http_equivalent"`
}

type toolError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details errorDetails `json:"details"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   toolError `json:"error"`
}

// jobView is the {job_id, status, progress, ...} shape most tool results
// embed (spec §6.1's transcribe_audio/get_transcription_progress result
// columns).
type jobView struct {
	JobID             string  `json:"job_id"`
	Status            string  `json:"status"`
	Progress          int     `json:"progress"`
	ProgressMessage   string  `json:"message,omitempty"`
	EstimatedDuration float64 `json:"estimated_duration,omitempty"`
	ModelInfo         string  `json:"model_info,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
	BatchID           string  `json:"batch_id,omitempty"`
	ResultRef         string  `json:"result_ref,omitempty"`
}
