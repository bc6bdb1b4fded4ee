package classifier

import (
	"sync"

	"github.com/ayusman/mudra/internal/features"
)

// MockClassifier returns a fixed prediction and records the windows it saw.
type MockClassifier struct {
	mu         sync.Mutex
	prediction Prediction
	err        error
	classes    int
	windows    [][]features.Vector
}

// NewMockClassifier creates a mock that always predicts index with the given
// class count.
func NewMockClassifier(classes, index int) *MockClassifier {
	return &MockClassifier{
		classes:    classes,
		prediction: Prediction{Index: index, Confidence: 1},
	}
}

// SetPrediction changes the returned prediction.
func (m *MockClassifier) SetPrediction(p Prediction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prediction = p
}

// SetError makes Classify fail with err. Pass nil to clear it.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Classify implements Classifier.
func (m *MockClassifier) Classify(window []features.Vector) (Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := make([]features.Vector, len(window))
	copy(w, window)
	m.windows = append(m.windows, w)

	if m.err != nil {
		return Prediction{}, m.err
	}
	return m.prediction, nil
}

// Windows returns every window passed to Classify.
func (m *MockClassifier) Windows() [][]features.Vector {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]features.Vector, len(m.windows))
	copy(out, m.windows)
	return out
}

// NumClasses implements Classifier.
func (m *MockClassifier) NumClasses() int {
	return m.classes
}

// Close implements Classifier.
func (m *MockClassifier) Close() error {
	return nil
}
