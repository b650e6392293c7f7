// Package diar implements the in-process diarization adapter (C3b): a
// lazily-initialized, process-wide pipeline singleton guarded by a mutex,
// following the lazy-connect/singleton shape of the teacher's
// internal/diarengine.Manager (reworked from a gRPC-daemon client to an
// in-process interface per spec §9's design note that this spec mandates
// subprocess-only supervision for the transcription engine specifically,
// not the diarization pipeline).
package diar

import (
	"context"
	"errors"
	"sync"

	"transcriflow/internal/models"
	"transcriflow/pkg/logger"
)

// ErrUnavailable is returned when the pipeline cannot be initialized
// (missing credentials or model weights). Callers treat this as a
// recoverable, soft failure: the job completes transcription-only
// (spec §4.3, §4.5).
var ErrUnavailable = errors.New("diarization pipeline unavailable")

// Pipeline is the narrow interface the adapter drives. A real
// implementation wraps whatever native diarization library/model the
// deployment bundles; tests substitute a fake.
type Pipeline interface {
	// Diarize runs the loaded pipeline over the audio at path and returns
	// ordered turns.
	Diarize(ctx context.Context, path string) ([]models.DiarizationTurn, error)
}

// Loader constructs the pipeline the first time it is needed. It returns
// ErrUnavailable (or a wrapped instance of it) if credentials or model
// weights are missing.
type Loader func(ctx context.Context, device string) (Pipeline, error)

// Adapter is the C3b contract: Diarize(source, cancel) -> turns.
type Adapter struct {
	load   Loader
	device string

	mu       sync.Mutex
	pipeline Pipeline
	loadErr  error
}

// New builds an Adapter that lazily loads its pipeline on the selected
// device using load. device is fixed at construction and handed to load
// unchanged (no device resolution happens here), since the diarization
// model is moved to a device once and reused.
func New(load Loader, device string) *Adapter {
	return &Adapter{load: load, device: device}
}

// ensure loads the pipeline exactly once per process; subsequent calls
// reuse the cached instance (or the cached load failure, so a missing
// model does not retry every job).
func (a *Adapter) ensure(ctx context.Context) (Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pipeline != nil {
		return a.pipeline, nil
	}
	if a.loadErr != nil {
		return nil, a.loadErr
	}

	p, err := a.load(ctx, a.device)
	if err != nil {
		a.loadErr = errWrap(err)
		return nil, a.loadErr
	}
	a.pipeline = p
	logger.Info("diarization pipeline loaded", "device", a.device)
	return p, nil
}

// Diarize runs the diarization pipeline over source, honoring ctx
// cancellation. It is guarded by the adapter's mutex for the whole call:
// the pipeline object is assumed not to be safely callable concurrently
// from multiple workers (spec §5 "if the underlying pipeline is not
// reentrant, callers must guard it with a mutex").
func (a *Adapter) Diarize(ctx context.Context, source string) ([]models.DiarizationTurn, error) {
	p, err := a.ensure(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	turns, err := p.Diarize(ctx, source)
	if err != nil {
		return nil, err
	}
	return turns, nil
}

func errWrap(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return errors.Join(ErrUnavailable, err)
}
