// Package features turns extracted landmarks into fixed-length feature vectors.
package features

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayusman/mudra/internal/detector"
)

// ErrInvalidLayout is returned for layouts that cannot produce a vector.
var ErrInvalidLayout = errors.New("invalid feature layout")

// Field is one per-point coordinate copied into the vector.
type Field string

const (
	FieldX          Field = "x"
	FieldY          Field = "y"
	FieldZ          Field = "z"
	FieldVisibility Field = "visibility"
)

// Subset describes one slice of the vector: which landmark set it reads,
// which points of that set, and which fields of each point.
type Subset struct {
	Source detector.Source `json:"source"`
	// Indices selects points from the set in this order. Empty means the
	// first Points points of the set.
	Indices []int   `json:"indices,omitempty"`
	Points  int     `json:"points"`
	Fields  []Field `json:"fields"`
	// Fill replaces the slice when the set is absent. Nil means zeros.
	Fill []float32 `json:"fill,omitempty"`
}

// Dim returns the number of values this subset contributes.
func (s Subset) Dim() int {
	return s.Points * len(s.Fields)
}

// Layout is an ordered list of subsets. The vector dimension depends on the
// layout alone, never on what was detected in a frame.
type Layout struct {
	Name    string   `json:"name,omitempty"`
	Subsets []Subset `json:"subsets"`
}

// Dim returns the feature dimension D produced by the layout.
func (l Layout) Dim() int {
	dim := 0
	for _, s := range l.Subsets {
		dim += s.Dim()
	}
	return dim
}

// Validate checks that every subset is well formed.
func (l Layout) Validate() error {
	if len(l.Subsets) == 0 {
		return fmt.Errorf("%w: no subsets", ErrInvalidLayout)
	}

	for i, s := range l.Subsets {
		if !s.Source.Valid() {
			return fmt.Errorf("%w: subset %d has unknown source %q", ErrInvalidLayout, i, s.Source)
		}
		if s.Points <= 0 {
			return fmt.Errorf("%w: subset %d has no points", ErrInvalidLayout, i)
		}
		if len(s.Indices) > 0 && len(s.Indices) != s.Points {
			return fmt.Errorf("%w: subset %d selects %d indices for %d points", ErrInvalidLayout, i, len(s.Indices), s.Points)
		}
		if len(s.Fields) == 0 {
			return fmt.Errorf("%w: subset %d has no fields", ErrInvalidLayout, i)
		}
		for _, f := range s.Fields {
			switch f {
			case FieldX, FieldY, FieldZ, FieldVisibility:
			default:
				return fmt.Errorf("%w: subset %d has unknown field %q", ErrInvalidLayout, i, f)
			}
		}
		if s.Fill != nil && len(s.Fill) != s.Dim() {
			return fmt.Errorf("%w: subset %d fill has %d values, want %d", ErrInvalidLayout, i, len(s.Fill), s.Dim())
		}
	}

	return nil
}

var (
	xyz  = []Field{FieldX, FieldY, FieldZ}
	xyzv = []Field{FieldX, FieldY, FieldZ, FieldVisibility}
)

// Holistic is the 150-value layout: shoulders, elbows and wrists from the
// pose (6×4), then the right hand (21×3), then the left hand (21×3).
func Holistic() Layout {
	return Layout{
		Name: "holistic",
		Subsets: []Subset{
			{
				Source: detector.SourcePose,
				Indices: []int{
					detector.LeftShoulder, detector.RightShoulder,
					detector.LeftElbow, detector.RightElbow,
					detector.LeftWrist, detector.RightWrist,
				},
				Points: 6,
				Fields: xyzv,
			},
			{Source: detector.SourceRightHand, Points: detector.NumLandmarks, Fields: xyz},
			{Source: detector.SourceLeftHand, Points: detector.NumLandmarks, Fields: xyz},
		},
	}
}

// RightHand is the 63-value layout of the right hand only.
func RightHand() Layout {
	return Layout{
		Name:    "right_hand",
		Subsets: []Subset{{Source: detector.SourceRightHand, Points: detector.NumLandmarks, Fields: xyz}},
	}
}

// Hand is the 63-value layout of whichever hand was detected first.
func Hand() Layout {
	return Layout{
		Name:    "hand",
		Subsets: []Subset{{Source: detector.SourceAnyHand, Points: detector.NumLandmarks, Fields: xyz}},
	}
}

// Preset returns a named built-in layout.
func Preset(name string) (Layout, error) {
	switch name {
	case "holistic":
		return Holistic(), nil
	case "right_hand":
		return RightHand(), nil
	case "hand":
		return Hand(), nil
	}
	return Layout{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidLayout, name)
}

// ParseLayout accepts either a preset name as a JSON string or a full layout object.
func ParseLayout(raw json.RawMessage) (Layout, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Layout{}, fmt.Errorf("%w: missing layout", ErrInvalidLayout)
	}

	var layout Layout
	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return Layout{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
		}
		var err error
		if layout, err = Preset(name); err != nil {
			return Layout{}, err
		}
	} else if err := json.Unmarshal(raw, &layout); err != nil {
		return Layout{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}

	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}
