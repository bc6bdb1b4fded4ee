package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a new Store backed by a temp file for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestNew_MigrationsAreRepeatable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer s.Close()

	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestPredictionRepository_CreateAndList(t *testing.T) {
	s := newTestStore(t)
	repo := s.Predictions()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, label := range []string{"hello", "thanks", "yes"} {
		p := &Prediction{
			Recognizer: "gestures",
			SessionID:  "s1",
			Label:      label,
			ClassIndex: i,
			Confidence: 0.9,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(p); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if p.ID == "" {
			t.Error("ID should be assigned on create")
		}
	}
	if err := repo.Create(&Prediction{Recognizer: "vowels", SessionID: "default", Label: "A"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("filtered newest first", func(t *testing.T) {
		got, err := repo.List("gestures", 2)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 predictions, got %d", len(got))
		}
		if got[0].Label != "yes" || got[1].Label != "thanks" {
			t.Errorf("order = %s, %s; want yes, thanks", got[0].Label, got[1].Label)
		}
		if got[0].ClassIndex != 2 || got[0].SessionID != "s1" {
			t.Errorf("unexpected row %+v", got[0])
		}
	})

	t.Run("all recognizers", func(t *testing.T) {
		got, err := repo.List("", 0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 4 {
			t.Errorf("expected 4 predictions, got %d", len(got))
		}
	})

	t.Run("unknown recognizer", func(t *testing.T) {
		got, err := repo.List("nope", 10)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %v", got)
		}
	})
}

func TestPredictionRepository_DeleteBefore(t *testing.T) {
	s := newTestStore(t)
	repo := s.Predictions()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.Create(&Prediction{Recognizer: "r", SessionID: "s", Label: "a", CreatedAt: old})
	repo.Create(&Prediction{Recognizer: "r", SessionID: "s", Label: "b"})

	n, err := repo.DeleteBefore(old.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
}

func TestSampleRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Samples()

	sample := &Sample{
		Recognizer: "numbers",
		Label:      "one",
		Frames:     [][]float32{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}},
	}
	if err := repo.Create(sample); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(sample.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Label != "one" || got.Recognizer != "numbers" {
		t.Errorf("unexpected sample %+v", got)
	}
	if len(got.Frames) != 3 || got.Dim() != 2 {
		t.Fatalf("frames = %d x %d, want 3 x 2", len(got.Frames), got.Dim())
	}
	if got.Frames[2][1] != 0.6 {
		t.Errorf("Frames[2][1] = %f, want 0.6", got.Frames[2][1])
	}

	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSampleRepository_CreateRejectsRaggedFrames(t *testing.T) {
	s := newTestStore(t)
	repo := s.Samples()

	tests := map[string][][]float32{
		"empty":  nil,
		"ragged": {{1, 2}, {3}},
	}
	for name, frames := range tests {
		t.Run(name, func(t *testing.T) {
			if err := repo.Create(&Sample{Recognizer: "r", Label: "a", Frames: frames}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSampleRepository_ListCountDelete(t *testing.T) {
	s := newTestStore(t)
	repo := s.Samples()

	for _, label := range []string{"one", "two", "one"} {
		if err := repo.Create(&Sample{Recognizer: "numbers", Label: label, Frames: [][]float32{{1}}}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	repo.Create(&Sample{Recognizer: "other", Label: "x", Frames: [][]float32{{1}}})

	samples, err := repo.ListByRecognizer("numbers")
	if err != nil {
		t.Fatalf("ListByRecognizer() error = %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}

	counts, err := repo.CountByLabel("numbers")
	if err != nil {
		t.Fatalf("CountByLabel() error = %v", err)
	}
	if counts["one"] != 2 || counts["two"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	if err := repo.Delete(samples[0].ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(samples[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
