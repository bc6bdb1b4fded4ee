// Package classifier runs sequence and frame models over feature windows.
package classifier

import (
	"errors"
	"fmt"

	"github.com/ayusman/mudra/internal/features"
)

var (
	// ErrConfigMismatch is returned when a model's class count disagrees with
	// its label map.
	ErrConfigMismatch = errors.New("classifier and label map disagree")
	// ErrInputShape is returned when a window does not match the model input.
	ErrInputShape = errors.New("window does not match model input")
)

// Prediction is the outcome of classifying one window.
type Prediction struct {
	Index         int
	Confidence    float64
	Probabilities []float32
}

// Classifier maps a window of feature vectors to a class.
type Classifier interface {
	Classify(window []features.Vector) (Prediction, error)
	// NumClasses returns the output cardinality, or 0 when the model does
	// not declare it.
	NumClasses() int
	Close() error
}

// ArgMax returns the index and value of the largest score. Ties go to the
// lowest index; an empty slice yields -1.
func ArgMax(scores []float32) (int, float32) {
	best := -1
	var bestScore float32
	for i, s := range scores {
		if best == -1 || s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best, bestScore
}

// FromScores builds a Prediction from a score vector.
func FromScores(scores []float32) (Prediction, error) {
	idx, score := ArgMax(scores)
	if idx < 0 {
		return Prediction{}, errors.New("model returned no scores")
	}
	return Prediction{Index: idx, Confidence: float64(score), Probabilities: scores}, nil
}

// CheckLabels verifies that c produces exactly n classes. Models that do not
// declare their class count pass.
func CheckLabels(c Classifier, n int) error {
	if got := c.NumClasses(); got > 0 && got != n {
		return fmt.Errorf("%w: model has %d classes, label map has %d", ErrConfigMismatch, got, n)
	}
	return nil
}

// flatten copies a window into one row-major slice, checking its shape.
func flatten(window []features.Vector, length, dim int) ([]float32, error) {
	if len(window) != length {
		return nil, fmt.Errorf("%w: %d frames, want %d", ErrInputShape, len(window), length)
	}
	data := make([]float32, 0, length*dim)
	for i, v := range window {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: frame %d has %d values, want %d", ErrInputShape, i, len(v), dim)
		}
		data = append(data, v...)
	}
	return data, nil
}
