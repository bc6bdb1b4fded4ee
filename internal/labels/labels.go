// Package labels maps classifier output indices to human-readable labels.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

var (
	// ErrUnknownClassIndex is returned for an index outside the map.
	ErrUnknownClassIndex = errors.New("unknown class index")
	// ErrInvalidMap is returned when a label map is not a bijection onto 0..n-1.
	ErrInvalidMap = errors.New("invalid label map")
)

// Map is a bijection between labels and class indices, built once at load.
type Map struct {
	byIndex []string
	byLabel map[string]int
}

// New builds a Map from label -> index pairs. Indices must be exactly
// 0..len(m)-1 with no repeats.
func New(m map[string]int) (*Map, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrInvalidMap)
	}

	byIndex := make([]string, len(m))
	byLabel := make(map[string]int, len(m))
	for label, idx := range m {
		if label == "" {
			return nil, fmt.Errorf("%w: empty label", ErrInvalidMap)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("%w: index %d for %q out of range [0, %d)", ErrInvalidMap, idx, label, len(m))
		}
		if prev := byIndex[idx]; prev != "" {
			return nil, fmt.Errorf("%w: index %d used by %q and %q", ErrInvalidMap, idx, prev, label)
		}
		byIndex[idx] = label
		byLabel[label] = idx
	}

	return &Map{byIndex: byIndex, byLabel: byLabel}, nil
}

// FromList builds a Map where each label's index is its position.
func FromList(list []string) (*Map, error) {
	m := make(map[string]int, len(list))
	for i, label := range list {
		if _, dup := m[label]; dup {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrInvalidMap, label)
		}
		m[label] = i
	}
	return New(m)
}

// Load reads a JSON object of label -> index from path.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	return New(m)
}

// Resolve returns the label for a class index.
func (m *Map) Resolve(idx int) (string, error) {
	if idx < 0 || idx >= len(m.byIndex) {
		return "", fmt.Errorf("%w: %d", ErrUnknownClassIndex, idx)
	}
	return m.byIndex[idx], nil
}

// Index returns the class index for a label.
func (m *Map) Index(label string) (int, bool) {
	idx, ok := m.byLabel[label]
	return idx, ok
}

// Len returns the number of classes.
func (m *Map) Len() int {
	return len(m.byIndex)
}

// Labels returns the labels ordered by index.
func (m *Map) Labels() []string {
	out := make([]string, len(m.byIndex))
	copy(out, m.byIndex)
	return out
}

// MarshalJSON writes the map in the same label -> index form Load reads.
func (m *Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.byLabel)
}

// Sorted returns the labels in alphabetical order.
func (m *Map) Sorted() []string {
	out := m.Labels()
	sort.Strings(out)
	return out
}
