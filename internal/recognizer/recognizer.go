// Package recognizer turns streams of camera frames into gesture labels.
//
// A request flows through frame decoding, landmark extraction and
// vectorization, then into the session's window. When the window fills it
// is classified once, the label resolved and the window cleared.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/labels"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
)

// NoHandLabel is the static-mode reply when no tracked landmark set is found.
const NoHandLabel = "No hand detected"

// ErrExtract wraps landmark extractor failures.
var ErrExtract = errors.New("extract landmarks")

// Status is the outcome reported for a frame.
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusPredicted  Status = "predicted"
	StatusNoHand     Status = "no_hand"
	StatusSaved      Status = "saved"
)

// Result is the outcome of one frame.
type Result struct {
	Status     Status
	Collected  int
	Needed     int
	Label      string
	ClassIndex int
	Confidence float64
	SampleID   string
}

// PredictionRecorder persists completed predictions.
type PredictionRecorder interface {
	Create(p *store.Prediction) error
}

// Options carries a recognizer's collaborators.
type Options struct {
	Extractor detector.Extractor
	Sessions  *session.Manager
	// History is used when the manifest enables record_history. May be nil.
	History PredictionRecorder
	// Publisher receives every prediction, regardless of record_history.
	// May be nil.
	Publisher PredictionRecorder
	// Samples backs capture and template training. May be nil.
	Samples SampleStore
}

// Recognizer is one configured route: a layout, a window length, a
// classifier and its label map.
type Recognizer struct {
	manifest   Manifest
	layout     features.Layout
	labels     *labels.Map
	classifier classifier.Classifier

	extractor detector.Extractor
	sessions  *session.Manager
	history   PredictionRecorder
	publisher PredictionRecorder
	samples   SampleStore
}

// New assembles a recognizer from a validated manifest. It fails with
// classifier.ErrConfigMismatch when the classifier's class count disagrees
// with the label map.
func New(m *Manifest, c classifier.Classifier, lm *labels.Map, opts Options) (*Recognizer, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	layout, err := features.ParseLayout(m.Layout)
	if err != nil {
		return nil, err
	}
	if err := classifier.CheckLabels(c, lm.Len()); err != nil {
		return nil, fmt.Errorf("recognizer %s: %w", m.Name, err)
	}
	if opts.Extractor == nil {
		return nil, errors.New("recognizer needs a landmark extractor")
	}
	if opts.Sessions == nil && m.Mode == ModeSequence {
		return nil, errors.New("sequence recognizer needs a session manager")
	}

	return &Recognizer{
		manifest:   *m,
		layout:     layout,
		labels:     lm,
		classifier: c,
		extractor:  opts.Extractor,
		sessions:   opts.Sessions,
		history:    opts.History,
		publisher:  opts.Publisher,
		samples:    opts.Samples,
	}, nil
}

// Name returns the recognizer name.
func (r *Recognizer) Name() string { return r.manifest.Name }

// Route returns the HTTP route, e.g. "/predict_lstm".
func (r *Recognizer) Route() string { return r.manifest.Route }

// Mode returns the recognition mode.
func (r *Recognizer) Mode() Mode { return r.manifest.Mode }

// Window returns the number of frames per classification.
func (r *Recognizer) Window() int { return r.manifest.Window }

// Dim returns the feature vector dimension.
func (r *Recognizer) Dim() int { return r.layout.Dim() }

// Labels returns the label map.
func (r *Recognizer) Labels() *labels.Map { return r.labels }

// Manifest returns a copy of the recognizer's manifest.
func (r *Recognizer) Manifest() Manifest { return r.manifest }

// Close releases the classifier.
func (r *Recognizer) Close() error {
	return r.classifier.Close()
}

// Handle processes one frame for a session. An empty sessionID uses the
// shared default session.
//
// Sequence frames are decoded and extracted while the session lease is held,
// so a session's window fills in arrival order. Decode and extraction
// failures leave the session untouched. A failed classification also leaves
// the full window in place; the next frame then drops the oldest one.
func (r *Recognizer) Handle(ctx context.Context, sessionID, image string) (Result, error) {
	if r.manifest.Mode == ModeStatic {
		v, detected, err := r.vectorize(image)
		if err != nil {
			return Result{}, err
		}
		if !detected {
			return Result{Status: StatusNoHand, Label: NoHandLabel, ClassIndex: -1}, nil
		}
		return r.classify(sessionID, []features.Vector{v})
	}

	lease, err := r.sessions.Acquire(ctx, session.Key(r.Name(), sessionID), r.Window())
	if err != nil {
		return Result{}, err
	}
	released := false
	defer func() {
		if !released {
			lease.Release()
		}
	}()

	v, _, err := r.vectorize(image)
	if err != nil {
		return Result{}, err
	}

	status, err := lease.Buffer().Push(ctx, v)
	if err != nil {
		return Result{}, fmt.Errorf("push frame: %w", err)
	}
	if !status.Ready() {
		return Result{Status: StatusCollecting, Collected: status.Collected, Needed: status.Needed}, nil
	}

	result, err := r.classify(sessionID, status.Window)
	if err != nil {
		return Result{}, err
	}

	// The window is cleared even if the caller went away during classification.
	clearCtx := context.WithoutCancel(ctx)
	switch {
	case r.manifest.SingleShot:
		released = true
		err = lease.Discard(clearCtx)
	case r.manifest.Stride > 0:
		err = lease.Buffer().Evict(clearCtx, r.manifest.Stride)
	default:
		err = lease.Buffer().Reset(clearCtx)
	}
	if err != nil {
		slog.Warn("failed to clear window", "recognizer", r.Name(), "session", sessionID, "error", err)
	}

	return result, nil
}

// ResetSession discards a session's buffered frames.
func (r *Recognizer) ResetSession(ctx context.Context, sessionID string) error {
	if r.sessions == nil {
		return session.ErrNotFound
	}
	return r.sessions.Remove(ctx, session.Key(r.Name(), sessionID))
}

func (r *Recognizer) vectorize(image string) (features.Vector, bool, error) {
	mat, err := frame.Decode(image)
	if err != nil {
		return nil, false, err
	}
	defer mat.Close()

	lm, err := r.extractor.Extract(mat)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrExtract, err)
	}

	return features.Vectorize(lm, r.layout), features.Detected(lm, r.layout), nil
}

func (r *Recognizer) classify(sessionID string, window []features.Vector) (Result, error) {
	pred, err := r.classifier.Classify(window)
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}

	label, err := r.labels.Resolve(pred.Index)
	if err != nil {
		return Result{}, err
	}

	if sessionID == "" {
		sessionID = session.DefaultID
	}
	p := &store.Prediction{
		Recognizer: r.Name(),
		SessionID:  sessionID,
		Label:      label,
		ClassIndex: pred.Index,
		Confidence: pred.Confidence,
	}
	if r.manifest.RecordHistory && r.history != nil {
		if err := r.history.Create(p); err != nil {
			slog.Warn("failed to record prediction", "recognizer", r.Name(), "error", err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Create(p); err != nil {
			slog.Warn("failed to publish prediction", "recognizer", r.Name(), "error", err)
		}
	}

	return Result{
		Status:     StatusPredicted,
		Collected:  len(window),
		Label:      label,
		ClassIndex: pred.Index,
		Confidence: pred.Confidence,
	}, nil
}
