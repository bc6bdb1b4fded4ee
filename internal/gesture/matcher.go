// Package gesture recognizes gestures by matching windows against averaged
// templates of recorded samples.
package gesture

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/labels"
)

// ErrNoTemplates is returned by Classify before any template is loaded.
var ErrNoTemplates = errors.New("no gesture templates loaded")

// Template is the averaged window for one label.
type Template struct {
	Label   string
	Frames  []features.Vector
	Samples int
}

// Match represents a matching result between input and a template.
type Match struct {
	Template *Template
	Score    float64 // 1 / (1 + distance)
	Distance float64
}

// Matcher is a Classifier over templates. Its classes are the label map's;
// a label without a template never wins.
type Matcher struct {
	mu        sync.RWMutex
	labels    *labels.Map
	templates []*Template
}

var _ classifier.Classifier = (*Matcher)(nil)

// NewMatcher creates a matcher whose class indices come from m.
func NewMatcher(m *labels.Map) *Matcher {
	return &Matcher{labels: m}
}

// SetTemplates replaces the loaded templates. Templates for labels missing
// from the label map are dropped.
func (m *Matcher) SetTemplates(templates []*Template) {
	kept := make([]*Template, 0, len(templates))
	for _, t := range templates {
		if t == nil {
			continue
		}
		if _, ok := m.labels.Index(t.Label); !ok {
			slog.Warn("dropping template with unknown label", "label", t.Label)
			continue
		}
		kept = append(kept, t)
	}

	m.mu.Lock()
	m.templates = kept
	m.mu.Unlock()
}

// Templates returns the loaded templates.
func (m *Matcher) Templates() []*Template {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Template, len(m.templates))
	copy(out, m.templates)
	return out
}

// Match scores window against every template.
// Returns matches sorted by score in descending order (best matches first).
func (m *Matcher) Match(window []features.Vector) []Match {
	if len(window) == 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, t := range m.templates {
		distance := DTWDistance(window, t.Frames)
		if math.IsInf(distance, 1) {
			continue
		}
		matches = append(matches, Match{
			Template: t,
			Score:    1.0 / (1.0 + distance),
			Distance: distance,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// Classify returns the best matching label's class index. Probabilities are
// the template scores normalized to sum to one.
func (m *Matcher) Classify(window []features.Vector) (classifier.Prediction, error) {
	matches := m.Match(window)
	if len(matches) == 0 {
		return classifier.Prediction{}, ErrNoTemplates
	}

	scores := make([]float32, m.labels.Len())
	var total float64
	for _, match := range matches {
		total += match.Score
	}
	for _, match := range matches {
		idx, _ := m.labels.Index(match.Template.Label)
		scores[idx] = float32(match.Score / total)
	}

	return classifier.FromScores(scores)
}

// NumClasses implements classifier.Classifier.
func (m *Matcher) NumClasses() int {
	return m.labels.Len()
}

// Close implements classifier.Classifier.
func (m *Matcher) Close() error {
	return nil
}
