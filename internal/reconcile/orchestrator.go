package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/rollcall/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultStepTimeout = 30 * time.Second

// AttendanceStore returns the number of distinct students checked in for a session.
type AttendanceStore interface {
	ScanCount(ctx context.Context, sessionID string) (int, error)
}

// HeadcountDetector counts people in one classroom photo.
type HeadcountDetector interface {
	Detect(ctx context.Context, sessionID string, image []byte) (Detection, error)
}

// Surface is a passive display sink.
type Surface interface {
	Render(severity Severity, title string, details []string)
}

// ArtifactSurface is implemented by surfaces that can show the detector's
// annotated debug image next to the result.
type ArtifactSurface interface {
	ShowArtifact(ref string)
	ClearArtifact()
}

// Options tune one Orchestrator.
type Options struct {
	// StepTimeout bounds each network step. Zero means DefaultStepTimeout.
	StepTimeout time.Duration
	// StrictHeadcount fails the run when the detector omits the count
	// instead of treating it as zero.
	StrictHeadcount bool
	Now             func() time.Time
}

// Orchestrator runs the scan-count vs. headcount comparison.
type Orchestrator struct {
	store    AttendanceStore
	detector HeadcountDetector
	surface  Surface
	opts     Options
}

func New(store AttendanceStore, detector HeadcountDetector, surface Surface, opts Options) *Orchestrator {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if surface == nil {
		surface = discardSurface{}
	}
	return &Orchestrator{
		store:    store,
		detector: detector,
		surface:  surface,
		opts:     opts,
	}
}

// Reconcile compares the scanned count of sess against the headcount detected
// in image and renders the outcome. Failures are rendered once and returned;
// nothing is retried.
func (o *Orchestrator) Reconcile(ctx context.Context, sess Session, image []byte) (Result, error) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("session", sess.ID).Logger()

	if !sess.Active() {
		return o.fail(runID, ErrNoActiveSession)
	}
	if len(image) == 0 {
		return o.fail(runID, ErrNoImageProvided)
	}

	o.clearArtifact()

	scanned, err := o.scanCount(ctx, sess.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("reconcile stats failed")
		return o.fail(runID, err)
	}

	detection, err := o.detect(ctx, sess.ID, image)
	if err != nil {
		logger.Warn().Err(err).Int("scanned", scanned).Msg("reconcile detection failed")
		return o.fail(runID, err)
	}

	detected := 0
	if detection.Headcount != nil {
		detected = *detection.Headcount
	} else {
		logger.Warn().Int("boxes", detection.Boxes).Msg("detector omitted headcount; treating as 0")
	}

	res := Compare(scanned, detected)
	res.RunID = runID
	res.SessionID = sess.ID
	res.Artifact = detection.Artifact
	res.CheckedAt = o.opts.Now()

	if res.Artifact != "" {
		if as, ok := o.surface.(ArtifactSurface); ok {
			as.ShowArtifact(res.Artifact)
		}
	}
	title, details := describeResult(res)
	o.surface.Render(res.Severity(), title, details)

	observability.RecordReconcile(string(res.Status))
	logger.Info().
		Str("status", string(res.Status)).
		Int("scanned", res.Scanned).
		Int("detected", res.Detected).
		Int("difference", res.Difference).
		Msg("reconcile complete")
	return res, nil
}

func (o *Orchestrator) scanCount(ctx context.Context, sessionID string) (int, error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
	defer cancel()

	scanned, err := o.store.ScanCount(stepCtx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStatsUnavailable, err)
	}
	if scanned < 0 {
		return 0, fmt.Errorf("%w: negative scanned count %d", ErrStatsUnavailable, scanned)
	}
	return scanned, nil
}

func (o *Orchestrator) detect(ctx context.Context, sessionID string, image []byte) (Detection, error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
	defer cancel()

	detection, err := o.detector.Detect(stepCtx, sessionID, image)
	if err != nil {
		return Detection{}, newDetectionError(err, "")
	}
	if detection.Headcount == nil && o.opts.StrictHeadcount {
		return Detection{}, &DetectionError{Message: "detector response did not include a headcount"}
	}
	if detection.Headcount != nil && *detection.Headcount < 0 {
		return Detection{}, &DetectionError{Message: fmt.Sprintf("negative headcount %d", *detection.Headcount)}
	}
	return detection, nil
}

func (o *Orchestrator) fail(runID string, err error) (Result, error) {
	title, details := describeFailure(err)
	o.surface.Render(SeverityInfo, title, details)
	observability.RecordReconcile(failureOutcome(err))
	log.Debug().Str("run_id", runID).Err(err).Msg("reconcile failed")
	return Result{}, err
}

func (o *Orchestrator) clearArtifact() {
	if as, ok := o.surface.(ArtifactSurface); ok {
		as.ClearArtifact()
	}
}

func failureOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, ErrNoImageProvided):
		return "no_image"
	case errors.Is(err, ErrStatsUnavailable):
		return "stats_unavailable"
	case errors.Is(err, ErrDetectionFailed):
		return "detection_failed"
	default:
		return "error"
	}
}

type discardSurface struct{}

func (discardSurface) Render(Severity, string, []string) {}
