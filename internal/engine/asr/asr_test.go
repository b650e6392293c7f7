package asr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	reports []int
}

func (s *collectingSink) Report(progress int, message string) {
	s.reports = append(s.reports, progress)
}

func TestResolveDevicePlanGPUPresent(t *testing.T) {
	plan := resolveDevicePlan("", func() bool { return true })
	assert.Equal(t, "cuda", plan.Device)
	assert.Equal(t, "float16", plan.ComputeType)
	assert.Equal(t, 16, plan.BatchSize)
}

func TestResolveDevicePlanGPUAbsent(t *testing.T) {
	plan := resolveDevicePlan("", func() bool { return false })
	assert.Equal(t, "cpu", plan.Device)
	assert.Equal(t, "int8", plan.ComputeType)
	assert.Equal(t, 1, plan.BatchSize)
}

func TestResolveDevicePlanCPUOverrideWinsOverGPU(t *testing.T) {
	plan := resolveDevicePlan("cpu", func() bool { return true })
	assert.Equal(t, "cpu", plan.Device)
	assert.Equal(t, 1, plan.BatchSize)
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, ClampTimeout(0))
	assert.Equal(t, MaxTimeout, ClampTimeout(2*time.Hour))
	assert.Equal(t, 45*time.Minute, ClampTimeout(45*time.Minute))
}

func TestParseResultConcatenatesSegmentText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"language": "en",
		"processing_seconds": 1.5,
		"audio_seconds": 8.0,
		"segments": [
			{"start": 0.0, "end": 2.0, "text": "hello"},
			{"start": 2.0, "end": 4.0, "text": "world"}
		]
	}`), 0o644))

	raw, err := parseResult(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", raw.Text)
	assert.Equal(t, "en", raw.Language)
	assert.Len(t, raw.Segments, 2)
	assert.Equal(t, 8.0, raw.AudioSeconds)
}

// TestTranscribeHappyPath drives the adapter against a fake "engine" shell
// script in place of the real subprocess-based ASR binary, exercising
// argument construction, process supervision, and result parsing together.
func TestTranscribeHappyPath(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}

	script := filepath.Join(t.TempDir(), "fake-engine.sh")
	scriptBody := "#!/bin/sh\n" +
		"out=\"\"\n" +
		"while [ \"$#\" -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"--output_dir\" ]; then out=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		"cat > \"$out/result.json\" <<'EOF'\n" +
		"{\"language\":\"en\",\"processing_seconds\":0.1,\"audio_seconds\":1.0,\"segments\":[{\"start\":0.0,\"end\":1.0,\"text\":\"hi\"}]}\n" +
		"EOF\n"
	require.NoError(t, os.WriteFile(script, []byte(scriptBody), 0o755))

	a := &Adapter{binPath: script, detectGPU: func() bool { return false }, running: make(map[int]string)}
	sink := &collectingSink{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := a.Transcribe(ctx, "clip.wav", Params{ModelSize: "base"}, make(chan struct{}), sink)
	require.NoError(t, err)
	assert.Equal(t, "hi", raw.Text)
	assert.Contains(t, sink.reports, 10)
	assert.Contains(t, sink.reports, 70)
}

func TestTranscribeCancellationKillsProcess(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}

	script := filepath.Join(t.TempDir(), "slow-engine.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 30\n"), 0o755))

	a := &Adapter{binPath: script, detectGPU: func() bool { return false }, running: make(map[int]string)}
	sink := &collectingSink{}

	cancelCh := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(cancelCh)
	}()

	start := time.Now()
	_, err := a.Transcribe(context.Background(), "clip.wav", Params{}, cancelCh, sink)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, elapsed, killGrace+5*time.Second)
}
