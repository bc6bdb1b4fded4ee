package recognizer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/labels"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
)

// ErrNotFound is returned when a recognizer name is not registered.
var ErrNotFound = errors.New("recognizer not found")

// Deps are the shared collaborators every recognizer is built with.
type Deps struct {
	Extractor detector.Extractor
	Sessions  *session.Manager
	// Store enables prediction history and sample capture. May be nil.
	Store *store.Store
	// Publisher forwards predictions to an event stream. May be nil.
	Publisher PredictionRecorder
}

// Build loads a manifest's label map and classifier and assembles the recognizer.
func Build(m *Manifest, deps Deps) (*Recognizer, error) {
	lm, err := labels.Load(m.LabelsPath())
	if err != nil {
		return nil, fmt.Errorf("recognizer %s: %w", m.Name, err)
	}
	layout, err := features.ParseLayout(m.Layout)
	if err != nil {
		return nil, fmt.Errorf("recognizer %s: %w", m.Name, err)
	}

	var c classifier.Classifier
	switch m.Classifier {
	case ClassifierTemplate:
		c = gesture.NewMatcher(lm)
	default:
		c, err = classifier.NewONNX(classifier.ONNXConfig{
			Path:   m.ModelPath(),
			Window: m.Window,
			Dim:    layout.Dim(),
			Static: m.Mode == ModeStatic,
		})
		if err != nil {
			return nil, fmt.Errorf("recognizer %s: %w", m.Name, err)
		}
	}

	opts := Options{Extractor: deps.Extractor, Sessions: deps.Sessions, Publisher: deps.Publisher}
	if deps.Store != nil {
		opts.History = deps.Store.Predictions()
		opts.Samples = deps.Store.Samples()
	}

	r, err := New(m, c, lm, opts)
	if err != nil {
		c.Close()
		return nil, err
	}

	if err := r.Retrain(); err != nil {
		slog.Warn("failed to train templates", "recognizer", m.Name, "error", err)
	}
	return r, nil
}

// Registry holds the loaded recognizers by name.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]*Recognizer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{recognizers: make(map[string]*Recognizer)}
}

// Load discovers manifests under dir and builds each one. Recognizers that
// fail to build are skipped with a warning, except for a classifier and
// label map that disagree, which aborts the load.
func (reg *Registry) Load(dir string, deps Deps) error {
	manifests, err := Discover(dir)
	if err != nil {
		return err
	}

	for _, m := range manifests {
		r, err := Build(m, deps)
		if errors.Is(err, classifier.ErrConfigMismatch) {
			return err
		}
		if err != nil {
			slog.Warn("skipping recognizer", "name", m.Name, "error", err)
			continue
		}
		if err := reg.Add(r); err != nil {
			r.Close()
			slog.Warn("skipping recognizer", "name", m.Name, "error", err)
			continue
		}
		slog.Info("loaded recognizer",
			"name", r.Name(),
			"route", r.Route(),
			"mode", r.Mode(),
			"window", r.Window(),
			"dim", r.Dim(),
			"classes", r.Labels().Len())
	}
	return nil
}

// Add registers r. Names and routes must be unique.
func (reg *Registry) Add(r *Recognizer) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.recognizers[r.Name()]; ok {
		return fmt.Errorf("recognizer %s already registered", r.Name())
	}
	for _, existing := range reg.recognizers {
		if existing.Route() == r.Route() {
			return fmt.Errorf("route %s already used by %s", r.Route(), existing.Name())
		}
	}
	reg.recognizers[r.Name()] = r
	return nil
}

// Get returns a recognizer by name.
func (reg *Registry) Get(name string) (*Recognizer, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.recognizers[name]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// List returns the recognizers sorted by route.
func (reg *Registry) List() []*Recognizer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]*Recognizer, 0, len(reg.recognizers))
	for _, r := range reg.recognizers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Route() < out[j].Route()
	})
	return out
}

// Close closes every recognizer.
func (reg *Registry) Close() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var errs []error
	for _, r := range reg.recognizers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
