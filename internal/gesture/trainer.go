package gesture

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ayusman/mudra/internal/features"
)

// ErrNoSamples is returned when there is nothing to train from.
var ErrNoSamples = errors.New("no samples provided")

// Sample is one recorded window with its label.
type Sample struct {
	Label  string
	Frames []features.Vector
}

// Trainer averages recorded samples into one template per label.
type Trainer struct {
	// Length is the number of frames every template is resampled to.
	Length int
}

// NewTrainer creates a Trainer producing templates of the given length.
func NewTrainer(length int) *Trainer {
	if length < 1 {
		length = 1
	}
	return &Trainer{Length: length}
}

// Train groups samples by label and averages each group frame by frame after
// resampling to the trainer's length. Templates are returned sorted by label.
func (t *Trainer) Train(samples []Sample) ([]*Template, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	dim := -1
	groups := make(map[string][][]features.Vector)
	for i, s := range samples {
		if s.Label == "" {
			return nil, fmt.Errorf("sample %d has no label", i)
		}
		if len(s.Frames) == 0 {
			return nil, fmt.Errorf("sample %d has no frames", i)
		}
		for j, f := range s.Frames {
			if dim == -1 {
				dim = len(f)
			}
			if len(f) != dim {
				return nil, fmt.Errorf("sample %d frame %d has %d values, expected %d", i, j, len(f), dim)
			}
		}
		groups[s.Label] = append(groups[s.Label], resampleSequence(s.Frames, t.Length))
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	templates := make([]*Template, 0, len(names))
	for _, name := range names {
		templates = append(templates, &Template{
			Label:   name,
			Frames:  average(groups[name], t.Length, dim),
			Samples: len(groups[name]),
		})
	}
	return templates, nil
}

func average(seqs [][]features.Vector, length, dim int) []features.Vector {
	out := make([]features.Vector, length)
	n := float32(len(seqs))
	for i := 0; i < length; i++ {
		sum := make(features.Vector, dim)
		for _, seq := range seqs {
			for k, x := range seq[i] {
				sum[k] += x
			}
		}
		for k := range sum {
			sum[k] /= n
		}
		out[i] = sum
	}
	return out
}

// resampleSequence resamples a sequence to exactly targetLength frames.
// Uses linear interpolation between neighbouring frames.
func resampleSequence(seq []features.Vector, targetLength int) []features.Vector {
	if len(seq) == 0 {
		return nil
	}

	if len(seq) == 1 || targetLength <= 1 {
		out := make([]features.Vector, max(targetLength, 1))
		for i := range out {
			out[i] = seq[0]
		}
		return out
	}

	result := make([]features.Vector, targetLength)
	for i := 0; i < targetLength; i++ {
		pos := float64(i) / float64(targetLength-1) * float64(len(seq)-1)

		idx := int(pos)
		if idx >= len(seq)-1 {
			idx = len(seq) - 2
		}
		frac := float32(pos - float64(idx))

		a, b := seq[idx], seq[idx+1]
		v := make(features.Vector, len(a))
		for k := range a {
			v[k] = a[k] + frac*(b[k]-a[k])
		}
		result[i] = v
	}
	return result
}
