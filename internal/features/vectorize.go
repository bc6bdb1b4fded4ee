package features

import "github.com/ayusman/mudra/internal/detector"

// Vector is one frame's encoding. Its length equals the layout's Dim.
type Vector []float32

// Vectorize encodes lm according to layout. It never fails: absent sets
// take the subset's fill and missing points inside a present set are zero.
func Vectorize(lm detector.Landmarks, layout Layout) Vector {
	v := make(Vector, 0, layout.Dim())
	for _, s := range layout.Subsets {
		v = appendSubset(v, lm.Set(s.Source), s)
	}
	return v
}

// Detected reports whether any subset of the layout found its landmark set.
func Detected(lm detector.Landmarks, layout Layout) bool {
	for _, s := range layout.Subsets {
		if lm.Has(s.Source) {
			return true
		}
	}
	return false
}

func appendSubset(v Vector, points []detector.Point, s Subset) Vector {
	if len(points) == 0 {
		if s.Fill != nil {
			return append(v, s.Fill...)
		}
		return append(v, make(Vector, s.Dim())...)
	}

	for i := 0; i < s.Points; i++ {
		idx := i
		if len(s.Indices) > 0 {
			idx = s.Indices[i]
		}
		if idx < 0 || idx >= len(points) {
			v = append(v, make(Vector, len(s.Fields))...)
			continue
		}
		p := points[idx]
		for _, f := range s.Fields {
			v = append(v, float32(field(p, f)))
		}
	}
	return v
}

func field(p detector.Point, f Field) float64 {
	switch f {
	case FieldX:
		return p.X
	case FieldY:
		return p.Y
	case FieldZ:
		return p.Z
	case FieldVisibility:
		return p.Visibility
	}
	return 0
}
