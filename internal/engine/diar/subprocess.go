package diar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"transcriflow/internal/models"
	"transcriflow/pkg/binaries"
)

// subprocessPipeline shells out to the configured diarization binary once
// per call, mirroring the engine adapter's own subprocess-and-parse-JSON
// shape (internal/engine/asr.Adapter.Transcribe/parseResult) rather than
// linking a native pipeline into the process.
type subprocessPipeline struct {
	binPath string
	device  string
	timeout time.Duration
}

type diarizeResult struct {
	Turns []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker string  `json:"speaker"`
	} `json:"turns"`
}

func (p *subprocessPipeline) Diarize(ctx context.Context, path string) ([]models.DiarizationTurn, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := os.CreateTemp("", "transcriflow-diarize-*.json")
	if err != nil {
		return nil, fmt.Errorf("prepare diarization output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(runCtx, p.binPath, path, "--device", p.device, "--output", outPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrUnavailable, err, output)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read diarization output: %w", err)
	}
	var res diarizeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse diarization output: %w", err)
	}

	turns := make([]models.DiarizationTurn, len(res.Turns))
	for i, t := range res.Turns {
		turns[i] = models.DiarizationTurn{StartSec: t.Start, EndSec: t.End, Speaker: t.Speaker}
	}
	return turns, nil
}

// SubprocessLoader builds a Loader that requires hfToken to be non-empty
// (spec §6.4's hf_token gate: diarization is unconditionally unavailable
// without it) and otherwise hands back a subprocessPipeline bound to the
// configured diarization binary.
func SubprocessLoader(hfToken string, timeout time.Duration) Loader {
	return func(ctx context.Context, device string) (Pipeline, error) {
		if hfToken == "" {
			return nil, fmt.Errorf("%w: no hf_token configured", ErrUnavailable)
		}
		binPath, err := exec.LookPath(binaries.Diarizer())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &subprocessPipeline{binPath: binPath, device: device, timeout: timeout}, nil
	}
}
