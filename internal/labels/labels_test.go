package labels

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNew_ResolveAndIndex(t *testing.T) {
	m, err := New(map[string]int{"hello": 0, "thanks": 1, "yes": 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}

	for i, want := range []string{"hello", "thanks", "yes"} {
		got, err := m.Resolve(i)
		if err != nil {
			t.Fatalf("Resolve(%d) error = %v", i, err)
		}
		if got != want {
			t.Errorf("Resolve(%d) = %q, want %q", i, got, want)
		}
		if idx, ok := m.Index(want); !ok || idx != i {
			t.Errorf("Index(%q) = %d, %v", want, idx, ok)
		}
	}
}

func TestResolve_UnknownIndex(t *testing.T) {
	m, _ := FromList([]string{"a", "b"})

	for _, idx := range []int{-1, 2, 100} {
		if _, err := m.Resolve(idx); !errors.Is(err, ErrUnknownClassIndex) {
			t.Errorf("Resolve(%d) expected ErrUnknownClassIndex, got %v", idx, err)
		}
	}
}

func TestNew_RejectsNonBijection(t *testing.T) {
	tests := map[string]map[string]int{
		"empty":        {},
		"duplicate":    {"a": 0, "b": 0},
		"gap":          {"a": 0, "b": 2},
		"negative":     {"a": -1, "b": 0},
		"empty label":  {"": 0},
		"out of range": {"a": 1},
	}

	for name, m := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New(m); !errors.Is(err, ErrInvalidMap) {
				t.Errorf("expected ErrInvalidMap, got %v", err)
			}
		})
	}
}

func TestFromList(t *testing.T) {
	m, err := FromList([]string{"A", "E", "I", "O", "U"})
	if err != nil {
		t.Fatalf("FromList() error = %v", err)
	}
	if got, _ := m.Resolve(3); got != "O" {
		t.Errorf("Resolve(3) = %q, want O", got)
	}

	if _, err := FromList([]string{"A", "A"}); !errors.Is(err, ErrInvalidMap) {
		t.Errorf("expected ErrInvalidMap for duplicate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "labels.json")
		os.WriteFile(path, []byte(`{"one": 0, "two": 1}`), 0644)

		m, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got, _ := m.Resolve(1); got != "two" {
			t.Errorf("Resolve(1) = %q, want two", got)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		os.WriteFile(path, []byte(`["one", "two"]`), 0644)

		if _, err := Load(path); !errors.Is(err, ErrInvalidMap) {
			t.Errorf("expected ErrInvalidMap, got %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "nope.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestLabelsAndSorted(t *testing.T) {
	m, _ := New(map[string]int{"zebra": 0, "apple": 1})

	if got := m.Labels(); got[0] != "zebra" || got[1] != "apple" {
		t.Errorf("Labels() = %v", got)
	}
	if got := m.Sorted(); got[0] != "apple" || got[1] != "zebra" {
		t.Errorf("Sorted() = %v", got)
	}

	// Labels must return a copy.
	m.Labels()[0] = "changed"
	if got, _ := m.Resolve(0); got != "zebra" {
		t.Errorf("Resolve(0) = %q after mutating Labels()", got)
	}
}
