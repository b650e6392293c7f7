// Package audioprobe reads the duration of a candidate audio file via
// ffprobe, grounded in the teacher's UnifiedTranscriptionService.createAudioInput
// (internal/transcription/unified_service.go): same -show_format/-show_streams
// JSON shape, same size-based fallback when ffprobe is unavailable or the
// file is exotic.
package audioprobe

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"time"

	"transcriflow/pkg/binaries"
	"transcriflow/pkg/logger"
)

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration estimates the audio duration in seconds, used for the batch
// submission's estimated_duration_sec field (spec §6.1). Falls back to a
// byte-size heuristic (32kB/s, the teacher's own fallback constant) if
// ffprobe is missing or fails to parse the file.
func Duration(path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	fallback := float64(info.Size()) / 32000

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, binaries.FFprobe(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		logger.Warn("ffprobe unavailable, using size-based duration estimate", "file", path, "error", err)
		return fallback, nil
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		logger.Warn("failed to parse ffprobe output, using size-based duration estimate", "file", path, "error", err)
		return fallback, nil
	}

	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
			return d, nil
		}
	}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		return d, nil
	}
	return fallback, nil
}
