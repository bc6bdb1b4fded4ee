package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
)

var (
	// ErrUnknownLabel is returned when capturing a label outside the label map.
	ErrUnknownLabel = errors.New("unknown label")
	// ErrNoSampleStore is returned when capture is used without a sample store.
	ErrNoSampleStore = errors.New("sample store not configured")
	// ErrSampleShape is returned for samples whose frames do not fit the recognizer.
	ErrSampleShape = errors.New("sample does not match recognizer")
)

// SampleStore persists recorded windows.
type SampleStore interface {
	Create(s *store.Sample) error
	ListByRecognizer(recognizer string) ([]store.Sample, error)
}

// captureKey keeps recording sessions apart from recognition sessions.
func (r *Recognizer) captureKey(sessionID string) string {
	return session.Key(r.Name()+"#capture", sessionID)
}

// Capture accumulates frames exactly like Handle, but a full window is saved
// as a labelled sample instead of being classified.
func (r *Recognizer) Capture(ctx context.Context, sessionID, label, image string) (Result, error) {
	if r.samples == nil {
		return Result{}, ErrNoSampleStore
	}
	if _, ok := r.labels.Index(label); !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}

	var lease *session.Lease
	if r.sessions != nil {
		var err error
		lease, err = r.sessions.Acquire(ctx, r.captureKey(sessionID), r.Window())
		if err != nil {
			return Result{}, err
		}
		defer lease.Release()
	}

	v, detected, err := r.vectorize(image)
	if err != nil {
		return Result{}, err
	}
	if r.manifest.Mode == ModeStatic && !detected {
		return Result{Status: StatusNoHand, Label: NoHandLabel, ClassIndex: -1}, nil
	}

	if lease == nil {
		return r.saveSample(label, []features.Vector{v})
	}

	status, err := lease.Buffer().Push(ctx, v)
	if err != nil {
		return Result{}, fmt.Errorf("push frame: %w", err)
	}
	if !status.Ready() {
		return Result{Status: StatusCollecting, Collected: status.Collected, Needed: status.Needed}, nil
	}

	result, err := r.saveSample(label, status.Window)
	if err != nil {
		return Result{}, err
	}
	if err := lease.Buffer().Reset(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("failed to clear capture window", "recognizer", r.Name(), "error", err)
	}
	return result, nil
}

// AddSample stores a window recorded elsewhere, e.g. by a client that ran
// its own landmark extraction.
func (r *Recognizer) AddSample(label string, frames [][]float32) (*store.Sample, error) {
	if r.samples == nil {
		return nil, ErrNoSampleStore
	}
	if _, ok := r.labels.Index(label); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrSampleShape)
	}

	window := make([]features.Vector, len(frames))
	for i, f := range frames {
		if len(f) != r.Dim() {
			return nil, fmt.Errorf("%w: frame %d has %d values, want %d", ErrSampleShape, i, len(f), r.Dim())
		}
		window[i] = f
	}

	return r.storeSample(label, window)
}

// Samples lists the recorded samples.
func (r *Recognizer) Samples() ([]store.Sample, error) {
	if r.samples == nil {
		return nil, ErrNoSampleStore
	}
	return r.samples.ListByRecognizer(r.Name())
}

func (r *Recognizer) saveSample(label string, window []features.Vector) (Result, error) {
	s, err := r.storeSample(label, window)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusSaved, Collected: len(window), Label: label, SampleID: s.ID}, nil
}

func (r *Recognizer) storeSample(label string, window []features.Vector) (*store.Sample, error) {
	frames := make([][]float32, len(window))
	for i, v := range window {
		frames[i] = v
	}

	s := &store.Sample{Recognizer: r.Name(), Label: label, Frames: frames}
	if err := r.samples.Create(s); err != nil {
		return nil, fmt.Errorf("save sample: %w", err)
	}
	slog.Info("recorded sample", "recognizer", r.Name(), "label", label, "frames", len(frames))

	if err := r.Retrain(); err != nil {
		slog.Warn("failed to retrain templates", "recognizer", r.Name(), "error", err)
	}
	return s, nil
}

// Retrain rebuilds templates from the sample store. It is a no-op for
// classifiers that are not template based.
func (r *Recognizer) Retrain() error {
	matcher, ok := r.classifier.(*gesture.Matcher)
	if !ok || r.samples == nil {
		return nil
	}

	stored, err := r.samples.ListByRecognizer(r.Name())
	if err != nil {
		return err
	}

	samples := make([]gesture.Sample, 0, len(stored))
	for _, s := range stored {
		if s.Dim() != r.Dim() {
			slog.Warn("skipping sample with wrong dimension", "id", s.ID, "dim", s.Dim())
			continue
		}
		frames := make([]features.Vector, len(s.Frames))
		for i, f := range s.Frames {
			frames[i] = f
		}
		samples = append(samples, gesture.Sample{Label: s.Label, Frames: frames})
	}

	if len(samples) == 0 {
		matcher.SetTemplates(nil)
		return nil
	}

	templates, err := gesture.NewTrainer(r.Window()).Train(samples)
	if err != nil {
		return err
	}
	matcher.SetTemplates(templates)

	slog.Info("trained templates", "recognizer", r.Name(), "templates", len(templates), "samples", len(samples))
	return nil
}
