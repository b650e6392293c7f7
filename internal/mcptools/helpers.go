package mcptools

import (
	"encoding/json"
	"time"

	"transcriflow/internal/apierrors"
	"transcriflow/internal/models"
	"transcriflow/internal/orchestrator"

	"github.com/mark3labs/mcp-go/mcp"
)

// parseISODate accepts either a bare date or a full RFC3339 timestamp,
// since list_transcription_history's date_from/date_to are documented as
// "ISO-8601" without pinning a single layout.
func parseISODate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// jobFromModel builds the jobView shared across tool results from a
// persisted Job.
func jobFromModel(j *models.Job) jobView {
	v := jobView{
		JobID:           j.ID,
		Status:          string(j.Status),
		Progress:        j.Progress,
		ProgressMessage: j.ProgressMessage,
		CreatedAt:       j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt:       j.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if j.BatchID != nil {
		v.BatchID = *j.BatchID
	}
	if j.ResultRef != nil {
		v.ResultRef = *j.ResultRef
	}
	return v
}

// jsonResult marshals v and wraps it as the tool's text content.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(apierrors.New(apierrors.CodeInternalError, "failed to encode result: "+err.Error()))
	}
	return mcp.NewToolResultText(string(data))
}

// errorResult renders an *apierrors.Error as the {success:false, error:
// {...}} envelope spec §6.1 requires from every tool's failure path.
func errorResult(e *apierrors.Error) *mcp.CallToolResult {
	env := errorEnvelope{
		Success: false,
		Error: toolError{
			Code:    string(e.Code),
			Message: e.Message,
			Details: errorDetails{
				ErrorType:      e.ErrorType,
				UserAction:     e.UserAction,
				HTTPEquivalent: e.HTTPEquivalent,
			},
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError(e.Message)
	}
	return mcp.NewToolResultText(string(data))
}

// errorFrom converts any error returned by the orchestrator into the
// apierrors shape: an *orchestrator.ValidationError keeps its specific
// code, everything else becomes INTERNAL_ERROR.
func errorFrom(err error) *apierrors.Error {
	if ve, ok := err.(*orchestrator.ValidationError); ok {
		return apierrors.New(apierrors.Code(ve.Code), ve.Message)
	}
	return apierrors.New(apierrors.CodeInternalError, err.Error())
}

// argString/argBool/argFloat/argStringSlice read typed values out of the
// raw arguments map a CallToolRequest carries, tolerating the loosely
// typed JSON numbers/arrays the protocol hands over (spec §9's "from
// dynamic objects to explicit records" applies at the boundary where
// these are parsed into typed request structs, not before).
func argString(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func argFloat(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	return int(argFloat(args, key, float64(def)))
}

func argStringSlice(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
